package cmd

import (
	"context"
	"fmt"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/reindex"
	"github.com/sirouk/clawboard/internal/runtime"
)

func reindexCmd() *cobra.Command {
	var dryRun bool
	var cron string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Reconcile the vector index against the live store (desired-vs-existing diff)",
		Long: "Walks every space's topics, tasks, and logs, diffs the result against the vector index's " +
			"managed keys, deletes stale entries immediately, and enqueues missing ones for the reindex consumer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cron != "" && !gronx.IsValid(cron) {
				return fmt.Errorf("invalid --cron expression %q", cron)
			}
			return runReindex(dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the cleanup plan without deleting or enqueueing anything")
	cmd.Flags().StringVar(&cron, "cron", "", "optional cron expression this invocation is scheduled under, validated but not itself scheduled (an external scheduler drives repetition)")
	return cmd
}

func runReindex(dryRun bool) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Store.Close()

	existing, err := rt.Vectors.ExistingKeys(ctx)
	if err != nil {
		return fmt.Errorf("reindex: load existing vector keys: %w", err)
	}

	plan, err := reindex.BuildCleanupPlan(ctx, rt.Store, false, existing)
	if err != nil {
		return err
	}

	if dryRun {
		report := reindex.PlanToReport(plan, true)
		fmt.Printf("desired=%d managedExisting=%d toDelete=%d toUpsert=%d (dry-run, nothing applied)\n",
			report.DesiredCount, report.ManagedExistingCount, report.DeleteCount, report.MissingCount)
		return nil
	}

	report, err := reindex.Apply(ctx, rt.Vectors, rt.ReindexQ, plan)
	if err != nil {
		return err
	}
	fmt.Printf("desired=%d managedExisting=%d deleted=%d enqueued=%d\n",
		report.DesiredCount, report.ManagedExistingCount, report.Deleted, report.Enqueued)
	return nil
}
