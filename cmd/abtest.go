// File: cmd/abtest.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/diagnose"
	"github.com/xkilldash9x/suture-cli/internal/evolution/abtest"
	"github.com/xkilldash9x/suture-cli/internal/evolution/improver"
	"github.com/xkilldash9x/suture-cli/internal/fixloop"
	"github.com/xkilldash9x/suture-cli/internal/knowledgebase"
	"github.com/xkilldash9x/suture-cli/internal/llmclient"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/patcher"
	"github.com/xkilldash9x/suture-cli/internal/patchgen"
	"github.com/xkilldash9x/suture-cli/internal/runner"
	"github.com/xkilldash9x/suture-cli/internal/trace"
)

var (
	abSuiteFile      string
	abAgent          string
	abControlVersion int
	abVariantVersion int
)

var abtestCmd = &cobra.Command{
	Use:   "abtest",
	Short: "Compare two prompt versions of an agent head to head.",
	Long: `Runs the suite's tests under two prompt versions of the same agent,
interleaved in a shuffled schedule, and reports which version repairs more
tests. A winner is only declared at the configured confidence level.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runABTest(cmd.Context())
	},
}

func init() {
	abtestCmd.Flags().StringVarP(&abSuiteFile, "suite", "s", "tests.yaml", "YAML test suite file")
	abtestCmd.Flags().StringVar(&abAgent, "agent", "diagnostician", "agent whose prompt versions are compared")
	abtestCmd.Flags().IntVar(&abControlVersion, "control", 0, "control prompt version (0 = latest-1)")
	abtestCmd.Flags().IntVar(&abVariantVersion, "variant", 0, "variant prompt version (0 = latest)")
	rootCmd.AddCommand(abtestCmd)
}

func runABTest(ctx context.Context) error {
	logger := observability.GetLogger()
	cfg := appCfg

	tests, err := loadSuite(abSuiteFile, cfg.FixLoop.TargetBaseURL)
	if err != nil {
		return err
	}

	versions, err := improver.NewVersionLog(cfg.Evolution.PromptLogFile)
	if err != nil {
		return err
	}
	control, variant, err := pickVersions(versions, abAgent, abControlVersion, abVariantVersion)
	if err != nil {
		return err
	}

	router, err := llmclient.NewRouterFromConfig(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM router: %w", err)
	}
	defer router.Close()

	var kb schemas.KnowledgeBase
	if cfg.KnowledgeBase.Enabled {
		kbClient, err := knowledgebase.New(cfg.KnowledgeBase, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize knowledge base: %w", err)
		}
		kb = kbClient
	}

	testRunner := runner.New(cfg.Runner, logger)
	if err := testRunner.Init(ctx); err != nil {
		return fmt.Errorf("failed to start test runner: %w", err)
	}
	defer testRunner.Close(context.WithoutCancel(ctx))

	baseDiag := diagnose.New(logger, router, kb, cfg.KnowledgeBase)
	generator := patchgen.New(logger, router, cfg.FixLoop.ProjectRoot, cfg.LLM.DefaultPowerfulModel)
	// A/B trials run against the local endpoint only. Pushing competing
	// patch attempts through the deploy pipeline would make trials
	// minutes long and leave junk commits behind.
	applier := patcher.NewApplier(logger, cfg.FixLoop.ProjectRoot, testRunner, nil, kb, cfg.Deploy.LocalEndpoint)

	trialRunner := &loopTrialRunner{
		build: func(promptCfg schemas.PromptConfig) *fixloop.Controller {
			diag := baseDiag.WithSystemPrompt(promptCfg.Prompt)
			return fixloop.NewController(cfg.FixLoop, logger, testRunner, diag, generator, applier, trace.NopSink{}, cfg.Trace.MaxSnapshotBytes)
		},
	}

	comparator := abtest.New(cfg.ABTest, logger, trialRunner, time.Now().UnixNano())
	result, err := comparator.Compare(ctx, control, variant, tests)
	if err != nil {
		return err
	}

	fmt.Printf("control v%d: pass %.0f%% avg-iter %.1f samples %d\n",
		control.Version, result.ControlMetrics.PassRate*100, result.ControlMetrics.AvgIterations, result.ControlMetrics.Samples)
	fmt.Printf("variant v%d: pass %.0f%% avg-iter %.1f samples %d\n",
		variant.Version, result.VariantMetrics.PassRate*100, result.VariantMetrics.AvgIterations, result.VariantMetrics.Samples)
	fmt.Printf("winner: %s (confidence %.2f)\n%s\n", result.Winner, result.Confidence, result.Recommendation)
	return nil
}

// loopTrialRunner runs each trial as one full repair loop under the
// trial's prompt configuration.
type loopTrialRunner struct {
	build func(schemas.PromptConfig) *fixloop.Controller
}

func (r *loopTrialRunner) RunTrial(ctx context.Context, promptCfg schemas.PromptConfig, testCase schemas.TestSpecification) (abtest.TrialResult, error) {
	start := time.Now()
	outcome, err := r.build(promptCfg).Fix(ctx, testCase)
	if err != nil {
		return abtest.TrialResult{Duration: time.Since(start)}, err
	}
	return abtest.TrialResult{
		Passed:     outcome.Success,
		Iterations: outcome.Iterations,
		Duration:   time.Since(start),
	}, nil
}

func pickVersions(versions *improver.VersionLog, agent string, controlV, variantV int) (control, variant schemas.PromptConfig, err error) {
	hist := versions.History(agent)
	if len(hist) < 2 && (controlV == 0 || variantV == 0) {
		return control, variant, fmt.Errorf("agent %q has %d recorded prompt versions, need at least two", agent, len(hist))
	}

	find := func(v int) (schemas.PromptConfig, bool) {
		for _, e := range hist {
			if e.Version == v {
				return e, true
			}
		}
		return schemas.PromptConfig{}, false
	}

	latest, _ := versions.Latest(agent)
	if variantV == 0 {
		variant = latest
	} else if variant, err = requireVersion(find, agent, variantV); err != nil {
		return
	}
	if controlV == 0 {
		if control, err = requireVersion(find, agent, variant.Version-1); err != nil {
			return
		}
	} else if control, err = requireVersion(find, agent, controlV); err != nil {
		return
	}
	if control.Version == variant.Version {
		err = fmt.Errorf("control and variant are the same version (%d)", control.Version)
	}
	return
}

func requireVersion(find func(int) (schemas.PromptConfig, bool), agent string, v int) (schemas.PromptConfig, error) {
	cfg, ok := find(v)
	if !ok {
		return cfg, fmt.Errorf("agent %q has no prompt version %d", agent, v)
	}
	return cfg, nil
}
