// Package cmd wires the command-line interface: plan, apply, destroy,
// drift and render.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/configuration"
	"github.com/stackpilot/stackpilot/logger"
	"github.com/stackpilot/stackpilot/stack"
)

var (
	cfg      *configuration.Config
	varFlags []string
)

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stackpilot",
		Short: "stackpilot provisions and watches AWS infrastructure from HCL stacks.",
		Long: `stackpilot reads a directory of .tf files describing VPCs, subnets,
security groups, IAM roles and EC2 instances, plans the changes needed to
reach that description, applies them against AWS and keeps watching the
provisioned resources for drift.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Bootstrap logging before configuration so config errors land
			// in the log, then re-level once the configured level is known.
			if err := logger.Initialize("info"); err != nil {
				return err
			}
			c, err := configuration.Initialize()
			if err != nil {
				return err
			}
			if c.LogLevel != "info" {
				if err := logger.Initialize(c.LogLevel); err != nil {
					return err
				}
			}
			cfg = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newDestroyCmd())
	cmd.AddCommand(newDriftCmd())
	cmd.AddCommand(newRenderCmd())

	cmd.PersistentFlags().String("stack-dir", "", "directory holding the .tf stack files")
	cmd.PersistentFlags().String("state", "", "path of the state file")
	cmd.PersistentFlags().StringArrayVar(&varFlags, "var", nil, "stack variable override, key=value (repeatable)")

	viper.BindPFlag("STACK_DIR", cmd.PersistentFlags().Lookup("stack-dir"))
	viper.BindPFlag("STATE_PATH", cmd.PersistentFlags().Lookup("state"))

	return cmd
}

// varOverrides parses repeated --var key=value flags
func varOverrides() (map[string]string, error) {
	if len(varFlags) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(varFlags))
	for _, raw := range varFlags {
		key, value, found := strings.Cut(raw, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", raw)
		}
		out[key] = value
	}
	return out, nil
}

// loadStack decodes the configured stack directory with --var overrides
func loadStack() (*stack.Stack, error) {
	overrides, err := varOverrides()
	if err != nil {
		return nil, err
	}
	stk, err := stack.DecodeDir(cfg.StackDir, stack.DecodeOptions{Overrides: overrides})
	if err != nil {
		return nil, err
	}
	zap.L().Info("Stack loaded",
		zap.String("operation", "stack_load"),
		zap.String("stack_dir", cfg.StackDir),
		zap.Int("resources", len(stk.Resources)),
	)
	return stk, nil
}
