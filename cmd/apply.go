package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/apply"
	"github.com/stackpilot/stackpilot/awsd"
	"github.com/stackpilot/stackpilot/plan"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

func newApplyCmd() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the planned changes against AWS",
		RunE: func(cmd *cobra.Command, args []string) error {
			stk, err := loadStack()
			if err != nil {
				return err
			}
			return runApply(cmd, stk, autoApprove)
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the interactive approval prompt")
	return cmd
}

// runApply plans against the current state, asks for approval and executes.
// Shared by apply and destroy.
func runApply(cmd *cobra.Command, stk *stack.Stack, autoApprove bool) error {
	store := state.NewStore(cfg.StatePath)
	st, err := store.Load()
	if err != nil {
		return err
	}
	p, err := plan.Compute(stk, st)
	if err != nil {
		return err
	}

	cmd.Println(p.Summary())
	if !p.HasChanges() {
		return nil
	}

	if !autoApprove {
		ok, err := confirm(cmd)
		if err != nil {
			return err
		}
		if !ok {
			cmd.Println("Apply cancelled.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ApplyTimeout)*time.Second)
	defer cancel()

	client, err := awsd.NewClient(ctx, cfg)
	if err != nil {
		return err
	}

	engine := apply.New(client, store, cfg.MaxRetries, cfg.RetryDelay, zap.L())
	if err := engine.Apply(ctx, stk, p, st); err != nil {
		return err
	}

	create, update, replace, del := p.Counts()
	cmd.Printf("Apply complete. Resources: %d created, %d updated, %d replaced, %d destroyed.\n",
		create+replace, update, replace, del+replace)
	return nil
}

func confirm(cmd *cobra.Command) (bool, error) {
	cmd.Print("Enter 'yes' to approve: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read approval: %w", err)
	}
	return strings.TrimSpace(line) == "yes", nil
}
