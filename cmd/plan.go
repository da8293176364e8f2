package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/plan"
	"github.com/stackpilot/stackpilot/state"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the changes needed to match the stack description",
		RunE: func(cmd *cobra.Command, args []string) error {
			stk, err := loadStack()
			if err != nil {
				return err
			}
			st, err := state.NewStore(cfg.StatePath).Load()
			if err != nil {
				return err
			}
			p, err := plan.Compute(stk, st)
			if err != nil {
				return err
			}
			cmd.Println(p.Summary())
			return nil
		},
	}
}
