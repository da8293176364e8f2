package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/monitoring"
	"github.com/stackpilot/stackpilot/state"
	"github.com/stackpilot/stackpilot/userdata"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render supporting artifacts for a provisioned stack",
	}
	cmd.AddCommand(newRenderUserDataCmd())
	cmd.AddCommand(newRenderPrometheusCmd())
	cmd.AddCommand(newRenderCloudWatchCmd())
	return cmd
}

func newRenderUserDataCmd() *cobra.Command {
	var (
		profile string
		format  string
		b64     bool
	)

	cmd := &cobra.Command{
		Use:   "user-data",
		Short: "Render the boot script for a host profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := userdata.Load(profile)
			if err != nil {
				return err
			}

			var rendered string
			switch format {
			case "shell":
				rendered = spec.RenderShell()
			case "cloud-config":
				rendered, err = spec.RenderCloudConfig()
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q, expected shell or cloud-config", format)
			}

			if b64 {
				rendered = userdata.Encode(rendered)
			}
			cmd.Print(rendered)
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", fmt.Sprintf("host profile, one of %v", userdata.Profiles()))
	cmd.Flags().StringVar(&format, "format", "shell", "output format, shell or cloud-config")
	cmd.Flags().BoolVar(&b64, "base64", false, "base64-encode the output the way EC2 expects")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func newRenderPrometheusCmd() *cobra.Command {
	var scrapeInterval string

	cmd := &cobra.Command{
		Use:   "prometheus",
		Short: "Render a prometheus.yml scraping every provisioned instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.NewStore(cfg.StatePath).Load()
			if err != nil {
				return err
			}
			rendered, err := monitoring.BuildPrometheusConfig(st, &monitoring.RenderOptions{
				ScrapeInterval: scrapeInterval,
			}).Render()
			if err != nil {
				return err
			}
			cmd.Print(string(rendered))
			return nil
		},
	}

	cmd.Flags().StringVar(&scrapeInterval, "scrape-interval", "", "scrape interval, defaults to 15s")
	return cmd
}

func newRenderCloudWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cloudwatch",
		Short: "Render the CloudWatch exporter configuration for EC2 metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rendered, err := monitoring.BuildCloudWatchConfig(cfg.AWSRegion).Render()
			if err != nil {
				return err
			}
			cmd.Print(string(rendered))
			return nil
		},
	}
}
