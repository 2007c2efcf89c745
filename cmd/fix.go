// File: cmd/fix.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/deploy"
	"github.com/xkilldash9x/suture-cli/internal/diagnose"
	"github.com/xkilldash9x/suture-cli/internal/evolution/history"
	"github.com/xkilldash9x/suture-cli/internal/fixloop"
	"github.com/xkilldash9x/suture-cli/internal/knowledgebase"
	"github.com/xkilldash9x/suture-cli/internal/llmclient"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/patcher"
	"github.com/xkilldash9x/suture-cli/internal/patchgen"
	"github.com/xkilldash9x/suture-cli/internal/runner"
	"github.com/xkilldash9x/suture-cli/internal/trace"
)

var fixSuiteFile string

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Run a test suite and repair every failing test.",
	Long: `Executes each test in the suite. Failing tests enter the bounded repair
loop: diagnose, generate a patch, apply it behind a rollback guard, and
retest. Results are recorded in the failure history for the evolve command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFix(cmd.Context())
	},
}

func init() {
	fixCmd.Flags().StringVarP(&fixSuiteFile, "suite", "s", "tests.yaml", "YAML test suite file")
	rootCmd.AddCommand(fixCmd)
}

func runFix(ctx context.Context) error {
	logger := observability.GetLogger()
	cfg := appCfg

	tests, err := loadSuite(fixSuiteFile, cfg.FixLoop.TargetBaseURL)
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

	var deployer schemas.Deployer
	if cfg.Deploy.Enabled {
		gitDeployer, err := deploy.New(cfg.Deploy, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize deployer: %w", err)
		}
		deployer = gitDeployer
	}

	var sink schemas.TraceSink = trace.NopSink{}
	if cfg.Trace.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Trace.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to connect to trace database: %w", err)
		}
		pgSink, err := trace.NewPostgresSink(ctx, pool, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize trace sink: %w", err)
		}
		defer pgSink.Close()
		sink = pgSink
	}

	testRunner := runner.New(cfg.Runner, logger)
	if err := testRunner.Init(ctx); err != nil {
		return fmt.Errorf("failed to start test runner: %w", err)
	}
	defer testRunner.Close(context.WithoutCancel(ctx))

	diagnostician := diagnose.New(logger, router, kb, cfg.KnowledgeBase)
	generator := patchgen.New(logger, router, cfg.FixLoop.ProjectRoot, cfg.LLM.DefaultPowerfulModel)
	applier := patcher.NewApplier(logger, cfg.FixLoop.ProjectRoot, testRunner, deployer, kb, cfg.Deploy.LocalEndpoint)
	controller := fixloop.NewController(cfg.FixLoop, logger, testRunner, diagnostician, generator, applier, sink, cfg.Trace.MaxSnapshotBytes)

	hist := history.New(logger)
	if cfg.Evolution.HistoryFile != "" {
		if err := hist.Load(cfg.Evolution.HistoryFile); err != nil {
			logger.Warn("Failed to load existing failure history", zap.Error(err))
		}
	}

	fixed, failed, aborted := 0, 0, 0
	for _, test := range tests {
		outcome, err := controller.Fix(ctx, test)
		if outcome != nil && outcome.Trace != nil {
			hist.RecordTrace(outcome.Trace)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Repair loop errored",
				zap.String("test_id", test.ID),
				zap.Error(err))
			aborted++
			continue
		}

		switch {
		case outcome.Success:
			fixed++
			fmt.Printf("PASS  %-30s iterations=%d patches=%d\n", test.ID, outcome.Iterations, len(outcome.Patches))
		case outcome.Aborted:
			aborted++
			fmt.Printf("ABORT %-30s iterations=%d\n", test.ID, outcome.Iterations)
		default:
			failed++
			fmt.Printf("FAIL  %-30s iterations=%d patches=%d (budget exhausted)\n", test.ID, outcome.Iterations, len(outcome.Patches))
		}
	}

	if cfg.Evolution.HistoryFile != "" {
		if err := hist.Save(cfg.Evolution.HistoryFile); err != nil {
			logger.Warn("Failed to save failure history", zap.Error(err))
		}
	}

	fmt.Printf("\n%d passing, %d unfixed, %d aborted (of %d tests)\n", fixed, failed, aborted, len(tests))
	if failed > 0 || aborted > 0 {
		return fmt.Errorf("%d tests remain broken", failed+aborted)
	}
	return nil
}
