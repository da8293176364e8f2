package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/plan"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

func vpcResource(name, cidr string, tags map[string]string) stack.Resource {
	return stack.Resource{
		Type: stack.TypeVPC,
		Name: name,
		VPC:  &stack.VPC{CIDRBlock: cidr, Tags: tags},
	}
}

func instanceResource(name, ami, instanceType string, tags map[string]string) stack.Resource {
	return stack.Resource{
		Type: stack.TypeInstance,
		Name: name,
		Instance: &stack.Instance{
			AMI:          ami,
			InstanceType: instanceType,
			Tags:         tags,
		},
	}
}

// record stores a resource's rendered attributes into state, the way a
// completed apply would
func record(t *testing.T, st *state.State, res stack.Resource, extra map[string]interface{}) {
	t.Helper()
	attrs, err := res.Attributes()
	require.NoError(t, err)
	for k, v := range extra {
		attrs[k] = v
	}
	st.SetInstance(res.Type, res.Name, "provider", attrs)
}

func TestCompute_CreatesEverythingOnFreshState(t *testing.T) {
	stk := &stack.Stack{Resources: []stack.Resource{
		vpcResource("main", "10.0.0.0/16", nil),
		instanceResource("web", "ami-1", "t2.micro", nil),
	}}

	p, err := plan.Compute(stk, state.New())
	require.NoError(t, err)

	require.Len(t, p.Steps, 2)
	assert.Equal(t, plan.ActionCreate, p.Steps[0].Action)
	assert.Equal(t, "aws_vpc.main", p.Steps[0].Address)
	assert.Equal(t, plan.ActionCreate, p.Steps[1].Action)
	assert.Equal(t, "aws_instance.web", p.Steps[1].Address)
	assert.True(t, p.HasChanges())
}

func TestCompute_NoOpWhenStateMatches(t *testing.T) {
	res := instanceResource("web", "ami-1", "t2.micro", map[string]string{"Name": "web"})
	stk := &stack.Stack{Resources: []stack.Resource{res}}

	st := state.New()
	record(t, st, res, map[string]interface{}{"id": "i-1"})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.ActionNoOp, p.Steps[0].Action)
	assert.False(t, p.HasChanges())
}

func TestCompute_TagChangeIsUpdate(t *testing.T) {
	recorded := instanceResource("web", "ami-1", "t2.micro", map[string]string{"Env": "dev"})
	desired := instanceResource("web", "ami-1", "t2.micro", map[string]string{"Env": "prod"})
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	record(t, st, recorded, map[string]interface{}{"id": "i-1"})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.ActionUpdate, p.Steps[0].Action)
	require.Len(t, p.Steps[0].Changes, 1)
	assert.Equal(t, "tags", p.Steps[0].Changes[0].Field)
}

func TestCompute_ImmutableChangeIsReplace(t *testing.T) {
	recorded := instanceResource("web", "ami-1", "t2.micro", nil)
	desired := instanceResource("web", "ami-1", "t3.large", nil)
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	record(t, st, recorded, map[string]interface{}{"id": "i-1"})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.ActionReplace, p.Steps[0].Action)
}

func TestCompute_IAMChangesAlwaysReplace(t *testing.T) {
	recorded := stack.Resource{
		Type:    stack.TypeIAMRole,
		Name:    "jenkins",
		IAMRole: &stack.IAMRole{Name: "jenkins", AssumeRolePolicy: "{}", Tags: map[string]string{"Env": "dev"}},
	}
	desired := stack.Resource{
		Type:    stack.TypeIAMRole,
		Name:    "jenkins",
		IAMRole: &stack.IAMRole{Name: "jenkins", AssumeRolePolicy: "{}", Tags: map[string]string{"Env": "prod"}},
	}
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	record(t, st, recorded, map[string]interface{}{"id": "jenkins"})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.ActionReplace, p.Steps[0].Action)
}

func TestCompute_ReferenceFieldsNeverDiff(t *testing.T) {
	// Desired subnet still carries the deferred vpc reference while state
	// recorded the settled id.
	desired := stack.Resource{
		Type: stack.TypeSubnet,
		Name: "public",
		Subnet: &stack.Subnet{
			VPCID:     stack.Reference("aws_vpc", "main", "id"),
			CIDRBlock: "10.0.1.0/24",
		},
	}
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	st.SetInstance(stack.TypeSubnet, "public", "provider", map[string]interface{}{
		"id":         "subnet-1",
		"vpc_id":     "vpc-1",
		"cidr_block": "10.0.1.0/24",
	})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.ActionNoOp, p.Steps[0].Action)
}

func TestCompute_DeletesComeLastInReverseRank(t *testing.T) {
	stk := stack.Empty()

	st := state.New()
	st.SetInstance(stack.TypeVPC, "main", "provider", map[string]interface{}{"id": "vpc-1"})
	st.SetInstance(stack.TypeInstance, "web", "provider", map[string]interface{}{"id": "i-1"})
	st.SetInstance(stack.TypeSubnet, "public", "provider", map[string]interface{}{"id": "subnet-1"})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	require.Len(t, p.Steps, 3)
	assert.Equal(t, "aws_instance.web", p.Steps[0].Address)
	assert.Equal(t, "aws_subnet.public", p.Steps[1].Address)
	assert.Equal(t, "aws_vpc.main", p.Steps[2].Address)
	for _, s := range p.Steps {
		assert.Equal(t, plan.ActionDelete, s.Action)
	}
}

func TestPlan_SummaryAndCounts(t *testing.T) {
	stk := &stack.Stack{Resources: []stack.Resource{
		vpcResource("main", "10.0.0.0/16", nil),
	}}
	st := state.New()
	st.SetInstance(stack.TypeInstance, "old", "provider", map[string]interface{}{"id": "i-9"})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	create, update, replace, del := p.Counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, 0, update)
	assert.Equal(t, 0, replace)
	assert.Equal(t, 1, del)

	summary := p.Summary()
	assert.Contains(t, summary, "aws_vpc.main")
	assert.Contains(t, summary, "aws_instance.old")
	assert.Contains(t, summary, "1 to create")
	assert.Contains(t, summary, "1 to delete")
}
