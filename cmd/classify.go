package cmd

import (
	"context"
	"fmt"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/runtime"
)

func classifyCmd() *cobra.Command {
	var cron string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run one session-classification cycle out of band, for cron-driven deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cron != "" && !gronx.IsValid(cron) {
				return fmt.Errorf("invalid --cron expression %q", cron)
			}
			return runClassifyOnce()
		},
	}
	cmd.Flags().StringVar(&cron, "cron", "", "optional cron expression this invocation is scheduled under, validated but not itself scheduled (an external scheduler drives repetition)")
	return cmd
}

func runClassifyOnce() error {
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

	rt.Classify.TriggerCycle(ctx)
	fmt.Println("classification cycle complete")
	return nil
}
