// File: cmd/evolve.go
package cmd

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/trace"
	"github.com/xkilldash9x/suture-cli/internal/evolution/detector"
	"github.com/xkilldash9x/suture-cli/internal/evolution/history"
	"github.com/xkilldash9x/suture-cli/internal/evolution/improver"
	"github.com/xkilldash9x/suture-cli/internal/observability"
)

var evolveApply bool

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Analyze the failure history and propose corrective actions.",
	Long: `Reads the aggregated failure history, detects recurring failure
patterns, and proposes typed corrective actions. With --apply, prompt-level
actions are folded into each agent's prompt as a new version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEvolve(cmd.Context())
	},
}

func init() {
	evolveCmd.Flags().BoolVar(&evolveApply, "apply", false, "apply prompt-level actions as new prompt versions")
	rootCmd.AddCommand(evolveCmd)
}

func runEvolve(ctx context.Context) error {
	logger := observability.GetLogger()
	cfg := appCfg

	hist := history.New(logger)
	if cfg.Trace.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Trace.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to connect to trace database: %w", err)
		}
		sink, err := trace.NewPostgresSink(ctx, pool, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize trace sink: %w", err)
		}
		defer sink.Close()
		failures, err := sink.LoadFailures(ctx)
		if err != nil {
			return fmt.Errorf("failed to load failure history from trace database: %w", err)
		}
		for _, f := range failures {
			hist.Record(f)
		}
	} else {
		if cfg.Evolution.HistoryFile == "" {
			return fmt.Errorf("evolution.history_file is not configured")
		}
		if err := hist.Load(cfg.Evolution.HistoryFile); err != nil {
			return err
		}
	}
	rows := hist.All()
	if len(rows) == 0 {
		fmt.Println("Failure history is empty; nothing to analyze.")
		return nil
	}

	det := detector.New(logger, cfg.Evolution.MinOccurrences)
	detections := det.Detect(rows)
	if len(detections) == 0 {
		fmt.Printf("No failure pattern reached %d occurrences across %d history rows.\n", cfg.Evolution.MinOccurrences, len(rows))
		return nil
	}

	for _, d := range detections {
		fmt.Printf("pattern %-40s occurrences=%d agents=%v\n", d.Pattern.Name, d.Occurrences, d.AffectedAgents)
		if d.Pattern.SuggestedFix != "" {
			fmt.Printf("    suggested: %s\n", d.Pattern.SuggestedFix)
		}
		for _, action := range d.Actions {
			fmt.Printf("    [%s/%s] %s -> %s\n", action.Kind, action.Priority, action.Target, action.Description)
		}
	}

	if !evolveApply {
		fmt.Println("\nRun with --apply to fold prompt-level actions into new prompt versions.")
		return nil
	}

	versions, err := improver.NewVersionLog(cfg.Evolution.PromptLogFile)
	if err != nil {
		return err
	}
	imp := improver.New(logger, versions)

	agents := agentsInRows(rows)
	var mu sync.Mutex
	revisions := make(map[string]*improver.Revision, len(agents))

	g, _ := errgroup.WithContext(ctx)
	for _, agent := range agents {
		g.Go(func() error {
			current, ok := versions.Latest(agent)
			if !ok {
				current = schemas.PromptConfig{Name: agent + "-prompt", Agent: agent, Version: 0}
			}
			rev, err := imp.Improve(agent, current, rows)
			if err != nil {
				return fmt.Errorf("agent %s: %w", agent, err)
			}
			mu.Lock()
			revisions[agent] = rev
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println()
	for _, agent := range agents {
		rev := revisions[agent]
		if len(rev.Improved) == 0 {
			fmt.Printf("agent %-20s prompt unchanged (confidence %.2f)\n", agent, rev.Confidence)
			continue
		}
		fmt.Printf("agent %-20s -> version %d, addressed %v (confidence %.2f)\n",
			agent, rev.Config.Version, rev.Improved, rev.Confidence)
		logger.Info("Applied prompt revision",
			zap.String("agent", agent),
			zap.Int("version", rev.Config.Version))
	}
	return nil
}

func agentsInRows(rows []schemas.FailureAnalysis) []string {
	seen := map[string]bool{}
	var agents []string
	for _, r := range rows {
		if r.Agent == "" || seen[r.Agent] {
			continue
		}
		seen[r.Agent] = true
		agents = append(agents, r.Agent)
	}
	sort.Strings(agents)
	return agents
}
