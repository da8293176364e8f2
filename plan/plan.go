// Package plan computes the change set between a desired stack and the
// recorded state. Planning is pure: no cloud calls, no state mutation.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/stackpilot/stackpilot/stack"
)

// Action is what the apply engine has to do for one resource
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoOp    Action = "no-op"
)

// FieldChange is a single attribute difference
type FieldChange struct {
	Field string
	Old   interface{}
	New   interface{}
}

// Step is one planned operation
type Step struct {
	Address string
	Type    string
	Name    string
	Action  Action
	Changes []FieldChange

	// Resource is the desired resource; nil for deletes
	Resource *stack.Resource
}

// Plan is an ordered change set
type Plan struct {
	Steps     []Step
	CreatedAt time.Time
}

// HasChanges reports whether any step does real work
func (p *Plan) HasChanges() bool {
	for _, s := range p.Steps {
		if s.Action != ActionNoOp {
			return true
		}
	}
	return false
}

// Counts returns the number of steps per action
func (p *Plan) Counts() (create, update, replace, del int) {
	for _, s := range p.Steps {
		switch s.Action {
		case ActionCreate:
			create++
		case ActionUpdate:
			update++
		case ActionReplace:
			replace++
		case ActionDelete:
			del++
		}
	}
	return
}

// Summary renders the plan for humans
func (p *Plan) Summary() string {
	var b strings.Builder
	for _, s := range p.Steps {
		if s.Action == ActionNoOp {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", marker(s.Action), s.Address)
		for _, c := range s.Changes {
			fmt.Fprintf(&b, "    %s: %v -> %v\n", c.Field, c.Old, c.New)
		}
	}
	create, update, replace, del := p.Counts()
	fmt.Fprintf(&b, "Plan: %d to create, %d to update, %d to replace, %d to delete.\n",
		create, update, replace, del)
	return b.String()
}

func marker(a Action) string {
	switch a {
	case ActionCreate:
		return "+"
	case ActionDelete:
		return "-"
	case ActionReplace:
		return "-/+"
	case ActionUpdate:
		return "~"
	}
	return " "
}
