// Package apply executes a computed plan against the cloud, recording every
// completed step into state before moving on.
package apply

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/awsd/models"
	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/monitoring"
	"github.com/stackpilot/stackpilot/plan"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

const (
	packageName = "apply"

	// providerRef is recorded against every managed resource in state
	providerRef = `provider["stackpilot/aws"]`
)

// Cloud is what the engine needs from the AWS layer
type Cloud interface {
	CreateVPC(ctx context.Context, name string, spec *stack.VPC) (string, error)
	DeleteVPC(ctx context.Context, id string) error
	CreateSubnet(ctx context.Context, name string, spec *stack.Subnet) (string, error)
	DeleteSubnet(ctx context.Context, id string) error
	CreateInternetGateway(ctx context.Context, name string, spec *stack.InternetGateway) (string, error)
	DeleteInternetGateway(ctx context.Context, id, vpcID string) error
	CreateSecurityGroup(ctx context.Context, name string, spec *stack.SecurityGroup) (string, error)
	DeleteSecurityGroup(ctx context.Context, id string) error
	CreateRole(ctx context.Context, spec *stack.IAMRole) (string, error)
	DeleteRole(ctx context.Context, name string) error
	CreateInstanceProfile(ctx context.Context, spec *stack.IAMInstanceProfile) (string, error)
	DeleteInstanceProfile(ctx context.Context, name, role string) error
	RunInstance(ctx context.Context, name string, spec *stack.Instance) (*models.Instance, error)
	TerminateInstance(ctx context.Context, id string) error
	UpdateTags(ctx context.Context, id string, tags map[string]string) error
	RemoveTags(ctx context.Context, id string, keys []string) error
}

// Saver is what the engine needs from the state layer
type Saver interface {
	Save(s *state.State) error
}

// Engine applies plans
type Engine struct {
	cloud      Cloud
	store      Saver
	maxRetries int
	retryDelay time.Duration
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// New creates an apply engine
func New(cloud Cloud, store Saver, maxRetries, retryDelaySeconds int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.L()
	}
	return &Engine{
		cloud:      cloud,
		store:      store,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelaySeconds) * time.Second,
		logger:     logger.With(zap.String("package", packageName)),
	}
}

// SetMetrics attaches engine metrics
func (e *Engine) SetMetrics(m *monitoring.Metrics) {
	e.metrics = m
}

// Apply runs every step of the plan in order, saving state after each
// completed step. The first failed step aborts the run; state stays
// consistent with whatever completed.
func (e *Engine) Apply(ctx context.Context, stk *stack.Stack, p *plan.Plan, st *state.State) error {
	for _, step := range p.Steps {
		if step.Action == plan.ActionNoOp {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.New(errors.ErrApply, "apply cancelled",
				map[string]interface{}{
					"address": step.Address,
				}, err)
		}

		start := time.Now()
		err := e.applyStep(ctx, step, st)
		if e.metrics != nil {
			e.metrics.ObserveApplyStep(string(step.Action), err == nil, time.Since(start))
		}
		if err != nil {
			e.logger.Error("Apply step failed",
				zap.String("operation", "apply_step"),
				zap.String("address", step.Address),
				zap.String("action", string(step.Action)),
				zap.Error(err),
			)
			return err
		}
		e.logger.Info("Apply step completed",
			zap.String("operation", "apply_step"),
			zap.String("address", step.Address),
			zap.String("action", string(step.Action)),
		)
	}

	return e.recordOutputs(stk, st)
}

// recordOutputs settles output references against the final state and saves
func (e *Engine) recordOutputs(stk *stack.Stack, st *state.State) error {
	if len(stk.Outputs) == 0 {
		return nil
	}
	for _, out := range stk.Outputs {
		val, err := resolveAny(out.Value, st)
		if err != nil {
			return errors.New(errors.ErrApply, "failed to resolve output",
				map[string]interface{}{
					"output": out.Name,
				}, err)
		}
		st.SetOutput(out.Name, val, out.Sensitive)
	}
	return e.store.Save(st)
}

func (e *Engine) applyStep(ctx context.Context, step plan.Step, st *state.State) error {
	switch step.Action {
	case plan.ActionCreate:
		return e.createResource(ctx, step, st)
	case plan.ActionUpdate:
		return e.updateResource(ctx, step, st)
	case plan.ActionReplace:
		if err := e.deleteResource(ctx, step.Address, st); err != nil {
			return err
		}
		return e.createResource(ctx, step, st)
	case plan.ActionDelete:
		return e.deleteResource(ctx, step.Address, st)
	}
	return nil
}

func (e *Engine) createResource(ctx context.Context, step plan.Step, st *state.State) error {
	resolved, attrs, err := resolveResource(step.Resource, st)
	if err != nil {
		return err
	}

	err = e.retry(ctx, step.Address, func() error {
		switch resolved.Type {
		case stack.TypeVPC:
			id, err := e.cloud.CreateVPC(ctx, resolved.Name, resolved.VPC)
			if err != nil {
				return err
			}
			attrs["id"] = id
		case stack.TypeSubnet:
			id, err := e.cloud.CreateSubnet(ctx, resolved.Name, resolved.Subnet)
			if err != nil {
				return err
			}
			attrs["id"] = id
		case stack.TypeInternetGateway:
			id, err := e.cloud.CreateInternetGateway(ctx, resolved.Name, resolved.InternetGateway)
			if err != nil {
				return err
			}
			attrs["id"] = id
		case stack.TypeSecurityGroup:
			id, err := e.cloud.CreateSecurityGroup(ctx, resolved.Name, resolved.SecurityGroup)
			if err != nil {
				return err
			}
			attrs["id"] = id
		case stack.TypeIAMRole:
			arn, err := e.cloud.CreateRole(ctx, resolved.IAMRole)
			if err != nil {
				return err
			}
			attrs["id"] = resolved.IAMRole.Name
			attrs["arn"] = arn
		case stack.TypeIAMInstanceProfile:
			arn, err := e.cloud.CreateInstanceProfile(ctx, resolved.IAMInstanceProfile)
			if err != nil {
				return err
			}
			attrs["id"] = resolved.IAMInstanceProfile.Name
			attrs["arn"] = arn
		case stack.TypeInstance:
			inst, err := e.cloud.RunInstance(ctx, resolved.Name, resolved.Instance)
			if err != nil {
				return err
			}
			attrs["id"] = inst.InstanceID
			if inst.PrivateIP != "" {
				attrs["private_ip"] = inst.PrivateIP
			}
			if inst.PublicIP != "" {
				attrs["public_ip"] = inst.PublicIP
			}
			if inst.AvailabilityZone != "" {
				attrs["availability_zone"] = inst.AvailabilityZone
			}
			if inst.PrivateDNSName != "" {
				attrs["private_dns"] = inst.PrivateDNSName
			}
			if inst.PublicDNSName != "" {
				attrs["public_dns"] = inst.PublicDNSName
			}
			if inst.SubnetID != "" {
				attrs["subnet_id"] = inst.SubnetID
			}
		default:
			return errors.New(errors.ErrApply, "unsupported resource type",
				map[string]interface{}{
					"type": resolved.Type,
				}, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	st.SetInstance(step.Type, step.Name, providerRef, attrs)
	return e.store.Save(st)
}

func (e *Engine) updateResource(ctx context.Context, step plan.Step, st *state.State) error {
	rec := st.Resource(step.Address)
	if rec == nil || len(rec.Instances) == 0 {
		return errors.New(errors.ErrApply, "update target missing from state",
			map[string]interface{}{
				"address": step.Address,
			}, nil)
	}
	id := rec.Instances[0].ID()

	_, attrs, err := resolveResource(step.Resource, st)
	if err != nil {
		return err
	}

	tags := map[string]string{"Name": step.Name}
	if raw, ok := attrs["tags"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				tags[k] = s
			}
		}
	}

	// Tags recorded but no longer desired must come off the live resource,
	// CreateTags only adds and overwrites
	var removed []string
	if prev, ok := rec.Instances[0].Attributes["tags"].(map[string]interface{}); ok {
		for k := range prev {
			if _, keep := tags[k]; !keep {
				removed = append(removed, k)
			}
		}
		sort.Strings(removed)
	}

	err = e.retry(ctx, step.Address, func() error {
		if err := e.cloud.UpdateTags(ctx, id, tags); err != nil {
			return err
		}
		if len(removed) > 0 {
			return e.cloud.RemoveTags(ctx, id, removed)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.Instances[0].Attributes["tags"] = attrs["tags"]
	return e.store.Save(st)
}

func (e *Engine) deleteResource(ctx context.Context, address string, st *state.State) error {
	rec := st.Resource(address)
	if rec == nil || len(rec.Instances) == 0 {
		// Nothing recorded, nothing to delete
		st.RemoveResource(address)
		return nil
	}
	attrs := rec.Instances[0].Attributes
	id := rec.Instances[0].ID()

	err := e.retry(ctx, address, func() error {
		switch rec.Type {
		case stack.TypeInstance:
			return e.cloud.TerminateInstance(ctx, id)
		case stack.TypeSecurityGroup:
			return e.cloud.DeleteSecurityGroup(ctx, id)
		case stack.TypeIAMInstanceProfile:
			role, _ := attrs["role"].(string)
			name, _ := attrs["name"].(string)
			return e.cloud.DeleteInstanceProfile(ctx, name, role)
		case stack.TypeIAMRole:
			name, _ := attrs["name"].(string)
			return e.cloud.DeleteRole(ctx, name)
		case stack.TypeSubnet:
			return e.cloud.DeleteSubnet(ctx, id)
		case stack.TypeInternetGateway:
			vpcID, _ := attrs["vpc_id"].(string)
			return e.cloud.DeleteInternetGateway(ctx, id, vpcID)
		case stack.TypeVPC:
			return e.cloud.DeleteVPC(ctx, id)
		}
		return errors.New(errors.ErrApply, "unsupported resource type",
			map[string]interface{}{
				"type": rec.Type,
			}, nil)
	})
	if err != nil {
		return err
	}

	st.RemoveResource(address)
	return e.store.Save(st)
}

// retry re-runs a cloud call on transient failure. Context cancellation is
// never retried.
func (e *Engine) retry(ctx context.Context, address string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("Retrying cloud operation",
				zap.String("operation", "apply_retry"),
				zap.String("address", address),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return errors.New(errors.ErrApply, "apply cancelled during retry",
					map[string]interface{}{
						"address": address,
					}, ctx.Err())
			case <-time.After(e.retryDelay):
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
