package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/intervene/internal/application/learner"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/patterns"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one learner maintenance pass against the stored patterns",
		Long: `Loads every learned pattern, decays stale ones, promotes consistent
winners to global, prunes consistent failures and writes the result back.
Safe to run while the server is stopped; a running server sweeps on its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, logger, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			repo := patterns.NewSQLPatternRepository(db, logger)
			l := learner.New(learner.DefaultConfig(), repo, clock.Real{}, logger, metrics.NewUnregistered())
			if err := l.Restore(ctx); err != nil {
				return fmt.Errorf("restore patterns: %w", err)
			}
			report := l.Sweep(ctx)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(report)
			}
			fmt.Printf("decayed:   %d\n", report.Decayed)
			fmt.Printf("promoted:  %d\n", report.Promoted)
			fmt.Printf("pruned:    %d\n", report.Pruned)
			fmt.Printf("persisted: %d\n", report.Persisted)
			fmt.Printf("remaining: %d\n", report.Remaining)
			return nil
		},
	}
}
