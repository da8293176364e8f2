package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/awsd"
	"github.com/stackpilot/stackpilot/drift"
	"github.com/stackpilot/stackpilot/monitoring"
	"github.com/stackpilot/stackpilot/state"
)

func newDriftCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Check provisioned resources against the recorded state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := awsd.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			store := state.NewStore(cfg.StatePath)
			service := drift.NewService(client, store, cfg.CheckInterval, cfg.ManagedByTag, zap.L())

			if !watch {
				report, err := service.RunOnce(ctx)
				if err != nil {
					return err
				}
				if report.Clean() {
					cmd.Printf("No drift detected across %d resources.\n", report.Checked)
					return nil
				}
				for _, d := range report.Drifts {
					cmd.Println(d.String())
				}
				cmd.Printf("%d drifts detected across %d resources.\n", len(report.Drifts), report.Checked)
				return nil
			}

			metrics := monitoring.NewMetrics()
			service.SetMetrics(metrics)
			if cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
						zap.L().Error("Metrics listener failed",
							zap.String("operation", "metrics_serve"),
							zap.Error(err),
						)
					}
				}()
			}

			errChan := make(chan error, 1)
			go func() {
				errChan <- service.RunLoop(ctx)
			}()

			select {
			case <-ctx.Done():
				zap.L().Info("Received signal, shutting down",
					zap.String("operation", "shutdown"),
				)
				return nil
			case err := <-errChan:
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep checking on the configured interval")
	return cmd
}
