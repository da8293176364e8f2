package plan

import (
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

const (
	packageName = "plan"
)

// mutableFields lists attributes the apply engine can change in place.
// Everything else forces a replace. IAM resources are always replaced.
var mutableFields = map[string]map[string]bool{
	stack.TypeVPC:             {"tags": true},
	stack.TypeSubnet:          {"tags": true},
	stack.TypeInternetGateway: {"tags": true},
	stack.TypeSecurityGroup:   {"tags": true},
	stack.TypeInstance:        {"tags": true},
}

// Compute diffs the desired stack against recorded state. Steps come out in
// execution order: creates and updates by dependency rank, deletes afterwards
// in reverse rank.
func Compute(stk *stack.Stack, st *state.State) (*Plan, error) {
	logger := zap.L().With(zap.String("package", packageName))

	p := &Plan{CreatedAt: time.Now().UTC()}

	for i := range stk.Resources {
		res := &stk.Resources[i]
		desired, err := res.Attributes()
		if err != nil {
			return nil, errors.New(errors.ErrPlan, "failed to render desired attributes",
				map[string]interface{}{
					"address": res.Address(),
				}, err)
		}

		step := Step{
			Address:  res.Address(),
			Type:     res.Type,
			Name:     res.Name,
			Resource: res,
		}

		recorded := st.Resource(res.Address())
		if recorded == nil || len(recorded.Instances) == 0 {
			step.Action = ActionCreate
			p.Steps = append(p.Steps, step)
			continue
		}

		changes := diffAttributes(desired, recorded.Instances[0].Attributes)
		if len(changes) == 0 {
			step.Action = ActionNoOp
			p.Steps = append(p.Steps, step)
			continue
		}

		step.Changes = changes
		step.Action = ActionUpdate
		mutable := mutableFields[res.Type]
		for _, c := range changes {
			if !mutable[c.Field] {
				step.Action = ActionReplace
				break
			}
		}
		p.Steps = append(p.Steps, step)
	}

	// Everything recorded but no longer desired gets removed
	var deletes []Step
	for _, address := range st.Addresses() {
		if stk.Resource(address) != nil {
			continue
		}
		rec := st.Resource(address)
		deletes = append(deletes, Step{
			Address: address,
			Type:    rec.Type,
			Name:    rec.Name,
			Action:  ActionDelete,
		})
	}
	sort.SliceStable(deletes, func(i, j int) bool {
		ri, rj := stack.Rank(deletes[i].Type), stack.Rank(deletes[j].Type)
		if ri != rj {
			return ri > rj
		}
		return deletes[i].Address < deletes[j].Address
	})
	p.Steps = append(p.Steps, deletes...)

	create, update, replace, del := p.Counts()
	logger.Info("Plan computed",
		zap.String("operation", "plan_compute"),
		zap.Int("create", create),
		zap.Int("update", update),
		zap.Int("replace", replace),
		zap.Int("delete", del),
	)
	return p, nil
}

// diffAttributes compares every desired attribute against the recorded one.
// Unresolved references are settled at apply time and never count as drifted.
func diffAttributes(desired, recorded map[string]interface{}) []FieldChange {
	var changes []FieldChange

	keys := make([]string, 0, len(desired))
	for k := range desired {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		dv := desired[k]
		if hasReference(dv) {
			continue
		}
		rv, ok := recorded[k]
		if !ok {
			changes = append(changes, FieldChange{Field: k, Old: nil, New: dv})
			continue
		}
		if !reflect.DeepEqual(dv, rv) {
			changes = append(changes, FieldChange{Field: k, Old: rv, New: dv})
		}
	}
	return changes
}

// hasReference walks a JSON-normalized value looking for a deferred reference
func hasReference(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return stack.IsReference(t)
	case []interface{}:
		for _, e := range t {
			if hasReference(e) {
				return true
			}
		}
	case map[string]interface{}:
		for _, e := range t {
			if hasReference(e) {
				return true
			}
		}
	}
	return false
}
