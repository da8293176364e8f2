package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/stack"
)

func newDestroyCmd() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource recorded in state",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Planning against an empty stack turns everything in state
			// into a delete.
			return runApply(cmd, stack.Empty(), autoApprove)
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the interactive approval prompt")
	return cmd
}
