package apply

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/awsd/models"
	"github.com/stackpilot/stackpilot/plan"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

// fakeCloud implements Cloud with overridable behavior per call
type fakeCloud struct {
	calls []string

	createVPCFunc   func(ctx context.Context, name string, spec *stack.VPC) (string, error)
	runInstanceFunc func(ctx context.Context, name string, spec *stack.Instance) (*models.Instance, error)
	updateTagsFunc  func(ctx context.Context, id string, tags map[string]string) error
}

func (f *fakeCloud) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeCloud) CreateVPC(ctx context.Context, name string, spec *stack.VPC) (string, error) {
	f.record("create-vpc %s", name)
	if f.createVPCFunc != nil {
		return f.createVPCFunc(ctx, name, spec)
	}
	return "vpc-" + name, nil
}

func (f *fakeCloud) DeleteVPC(ctx context.Context, id string) error {
	f.record("delete-vpc %s", id)
	return nil
}

func (f *fakeCloud) CreateSubnet(ctx context.Context, name string, spec *stack.Subnet) (string, error) {
	f.record("create-subnet %s vpc=%s", name, spec.VPCID)
	return "subnet-" + name, nil
}

func (f *fakeCloud) DeleteSubnet(ctx context.Context, id string) error {
	f.record("delete-subnet %s", id)
	return nil
}

func (f *fakeCloud) CreateInternetGateway(ctx context.Context, name string, spec *stack.InternetGateway) (string, error) {
	f.record("create-igw %s vpc=%s", name, spec.VPCID)
	return "igw-" + name, nil
}

func (f *fakeCloud) DeleteInternetGateway(ctx context.Context, id, vpcID string) error {
	f.record("delete-igw %s vpc=%s", id, vpcID)
	return nil
}

func (f *fakeCloud) CreateSecurityGroup(ctx context.Context, name string, spec *stack.SecurityGroup) (string, error) {
	f.record("create-sg %s", name)
	return "sg-" + name, nil
}

func (f *fakeCloud) DeleteSecurityGroup(ctx context.Context, id string) error {
	f.record("delete-sg %s", id)
	return nil
}

func (f *fakeCloud) CreateRole(ctx context.Context, spec *stack.IAMRole) (string, error) {
	f.record("create-role %s", spec.Name)
	return "arn:aws:iam::000000000000:role/" + spec.Name, nil
}

func (f *fakeCloud) DeleteRole(ctx context.Context, name string) error {
	f.record("delete-role %s", name)
	return nil
}

func (f *fakeCloud) CreateInstanceProfile(ctx context.Context, spec *stack.IAMInstanceProfile) (string, error) {
	f.record("create-profile %s", spec.Name)
	return "arn:aws:iam::000000000000:instance-profile/" + spec.Name, nil
}

func (f *fakeCloud) DeleteInstanceProfile(ctx context.Context, name, role string) error {
	f.record("delete-profile %s role=%s", name, role)
	return nil
}

func (f *fakeCloud) RunInstance(ctx context.Context, name string, spec *stack.Instance) (*models.Instance, error) {
	f.record("run-instance %s", name)
	if f.runInstanceFunc != nil {
		return f.runInstanceFunc(ctx, name, spec)
	}
	return &models.Instance{InstanceID: "i-" + name, PrivateIP: "10.0.1.10"}, nil
}

func (f *fakeCloud) TerminateInstance(ctx context.Context, id string) error {
	f.record("terminate %s", id)
	return nil
}

func (f *fakeCloud) UpdateTags(ctx context.Context, id string, tags map[string]string) error {
	f.record("update-tags %s", id)
	if f.updateTagsFunc != nil {
		return f.updateTagsFunc(ctx, id, tags)
	}
	return nil
}

func (f *fakeCloud) RemoveTags(ctx context.Context, id string, keys []string) error {
	f.record("remove-tags %s %v", id, keys)
	return nil
}

// fakeSaver counts saves without touching disk
type fakeSaver struct {
	saves int
}

func (f *fakeSaver) Save(s *state.State) error {
	f.saves++
	return nil
}

func subnetPtr(s string) *string { return &s }

func TestApply_CreatesInOrderAndResolvesReferences(t *testing.T) {
	stk := &stack.Stack{
		Resources: []stack.Resource{
			{Type: stack.TypeVPC, Name: "main", VPC: &stack.VPC{CIDRBlock: "10.0.0.0/16"}},
			{Type: stack.TypeSubnet, Name: "public", Subnet: &stack.Subnet{
				VPCID:     stack.Reference("aws_vpc", "main", "id"),
				CIDRBlock: "10.0.1.0/24",
			}},
			{Type: stack.TypeInstance, Name: "web", Instance: &stack.Instance{
				AMI:          "ami-1",
				InstanceType: "t2.micro",
				SubnetID:     subnetPtr(stack.Reference("aws_subnet", "public", "id")),
			}},
		},
		Outputs: []stack.Output{
			{Name: "instance_id", Value: stack.Reference("aws_instance", "web", "id")},
		},
	}

	st := state.New()
	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	cloud := &fakeCloud{}
	saver := &fakeSaver{}
	engine := New(cloud, saver, 0, 0, nil)

	require.NoError(t, engine.Apply(context.Background(), stk, p, st))

	assert.Equal(t, []string{
		"create-vpc main",
		"create-subnet public vpc=vpc-main",
		"run-instance web",
	}, cloud.calls)

	// State carries settled attributes for every created resource
	assert.Equal(t, "vpc-main", st.Resource("aws_vpc.main").Instances[0].ID())
	assert.Equal(t, "subnet-public", st.Resource("aws_subnet.public").Instances[0].ID())
	inst := st.Resource("aws_instance.web").Instances[0]
	assert.Equal(t, "i-web", inst.ID())
	assert.Equal(t, "10.0.1.10", inst.Attributes["private_ip"])

	// Output resolved against the final state
	assert.Equal(t, "i-web", st.Outputs["instance_id"].Value)

	// One save per step plus the output save
	assert.Equal(t, 4, saver.saves)
}

func TestApply_UpdateOnlyTouchesTags(t *testing.T) {
	desired := stack.Resource{Type: stack.TypeInstance, Name: "web", Instance: &stack.Instance{
		AMI:          "ami-1",
		InstanceType: "t2.micro",
		Tags:         map[string]string{"Env": "prod"},
	}}
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	st.SetInstance(stack.TypeInstance, "web", "provider", map[string]interface{}{
		"id":            "i-1",
		"ami":           "ami-1",
		"instance_type": "t2.micro",
		"tags":          map[string]interface{}{"Env": "dev"},
	})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)
	require.Equal(t, plan.ActionUpdate, p.Steps[0].Action)

	cloud := &fakeCloud{}
	engine := New(cloud, &fakeSaver{}, 0, 0, nil)
	require.NoError(t, engine.Apply(context.Background(), stk, p, st))

	assert.Equal(t, []string{"update-tags i-1"}, cloud.calls)
	tags := st.Resource("aws_instance.web").Instances[0].Attributes["tags"].(map[string]interface{})
	assert.Equal(t, "prod", tags["Env"])
}

func TestApply_UpdateRemovesDroppedTags(t *testing.T) {
	desired := stack.Resource{Type: stack.TypeInstance, Name: "web", Instance: &stack.Instance{
		AMI:          "ami-1",
		InstanceType: "t2.micro",
		Tags:         map[string]string{"Env": "prod"},
	}}
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	st.SetInstance(stack.TypeInstance, "web", "provider", map[string]interface{}{
		"id":            "i-1",
		"ami":           "ami-1",
		"instance_type": "t2.micro",
		"tags":          map[string]interface{}{"Env": "prod", "Owner": "ops", "Team": "infra"},
	})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)
	require.Equal(t, plan.ActionUpdate, p.Steps[0].Action)

	cloud := &fakeCloud{}
	engine := New(cloud, &fakeSaver{}, 0, 0, nil)
	require.NoError(t, engine.Apply(context.Background(), stk, p, st))

	assert.Equal(t, []string{"update-tags i-1", "remove-tags i-1 [Owner Team]"}, cloud.calls)
	tags := st.Resource("aws_instance.web").Instances[0].Attributes["tags"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"Env": "prod"}, tags)
}

func TestApply_ReplaceDeletesThenCreates(t *testing.T) {
	desired := stack.Resource{Type: stack.TypeInstance, Name: "web", Instance: &stack.Instance{
		AMI:          "ami-1",
		InstanceType: "t3.large",
	}}
	stk := &stack.Stack{Resources: []stack.Resource{desired}}

	st := state.New()
	st.SetInstance(stack.TypeInstance, "web", "provider", map[string]interface{}{
		"id":            "i-old",
		"ami":           "ami-1",
		"instance_type": "t2.micro",
	})

	p, err := plan.Compute(stk, st)
	require.NoError(t, err)
	require.Equal(t, plan.ActionReplace, p.Steps[0].Action)

	cloud := &fakeCloud{}
	engine := New(cloud, &fakeSaver{}, 0, 0, nil)
	require.NoError(t, engine.Apply(context.Background(), stk, p, st))

	assert.Equal(t, []string{"terminate i-old", "run-instance web"}, cloud.calls)
	assert.Equal(t, "i-web", st.Resource("aws_instance.web").Instances[0].ID())
}

func TestApply_DeleteUsesRecordedAttributes(t *testing.T) {
	st := state.New()
	st.SetInstance(stack.TypeInternetGateway, "main", "provider", map[string]interface{}{
		"id":     "igw-1",
		"vpc_id": "vpc-1",
	})
	st.SetInstance(stack.TypeIAMInstanceProfile, "jenkins", "provider", map[string]interface{}{
		"id":   "jenkins-profile",
		"name": "jenkins-profile",
		"role": "jenkins-role",
	})

	p, err := plan.Compute(stack.Empty(), st)
	require.NoError(t, err)

	cloud := &fakeCloud{}
	engine := New(cloud, &fakeSaver{}, 0, 0, nil)
	require.NoError(t, engine.Apply(context.Background(), stack.Empty(), p, st))

	assert.Contains(t, cloud.calls, "delete-igw igw-1 vpc=vpc-1")
	assert.Contains(t, cloud.calls, "delete-profile jenkins-profile role=jenkins-role")
	assert.Empty(t, st.Resources)
}

func TestApply_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	cloud := &fakeCloud{
		createVPCFunc: func(ctx context.Context, name string, spec *stack.VPC) (string, error) {
			attempts++
			if attempts < 3 {
				return "", fmt.Errorf("throttled")
			}
			return "vpc-1", nil
		},
	}

	stk := &stack.Stack{Resources: []stack.Resource{
		{Type: stack.TypeVPC, Name: "main", VPC: &stack.VPC{CIDRBlock: "10.0.0.0/16"}},
	}}
	st := state.New()
	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	engine := New(cloud, &fakeSaver{}, 3, 0, nil)
	require.NoError(t, engine.Apply(context.Background(), stk, p, st))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, "vpc-1", st.Resource("aws_vpc.main").Instances[0].ID())
}

func TestApply_AbortsOnFirstFailureKeepingState(t *testing.T) {
	cloud := &fakeCloud{
		runInstanceFunc: func(ctx context.Context, name string, spec *stack.Instance) (*models.Instance, error) {
			return nil, fmt.Errorf("capacity error")
		},
	}

	stk := &stack.Stack{Resources: []stack.Resource{
		{Type: stack.TypeVPC, Name: "main", VPC: &stack.VPC{CIDRBlock: "10.0.0.0/16"}},
		{Type: stack.TypeInstance, Name: "web", Instance: &stack.Instance{AMI: "ami-1", InstanceType: "t2.micro"}},
	}}
	st := state.New()
	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	engine := New(cloud, &fakeSaver{}, 0, 0, nil)
	err = engine.Apply(context.Background(), stk, p, st)
	require.Error(t, err)

	// The VPC completed before the failure and stays recorded
	assert.NotNil(t, st.Resource("aws_vpc.main"))
	assert.Nil(t, st.Resource("aws_instance.web"))
}

func TestApply_CancelledContextStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stk := &stack.Stack{Resources: []stack.Resource{
		{Type: stack.TypeVPC, Name: "main", VPC: &stack.VPC{CIDRBlock: "10.0.0.0/16"}},
	}}
	st := state.New()
	p, err := plan.Compute(stk, st)
	require.NoError(t, err)

	cloud := &fakeCloud{}
	engine := New(cloud, &fakeSaver{}, 0, 0, nil)
	err = engine.Apply(ctx, stk, p, st)

	require.Error(t, err)
	assert.Empty(t, cloud.calls)
}
