package drift

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackpilot/stackpilot/awsd/models"
	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/monitoring"
	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

const (
	packageName = "drift"
)

// CloudReader defines the read-only AWS operations the checker needs
type CloudReader interface {
	GetInstance(ctx context.Context, id string) (*models.Instance, error)
	GetVPC(ctx context.Context, id string) (*models.VPC, error)
	GetSubnet(ctx context.Context, id string) (*models.Subnet, error)
	GetSecurityGroup(ctx context.Context, id string) (*models.SecurityGroup, error)
	ListInstancesByTag(ctx context.Context, key, value string) ([]models.Instance, error)
}

// StateLoader defines the state operations the checker needs
type StateLoader interface {
	Load() (*state.State, error)
}

// Checker defines the drift checking operations
type Checker interface {
	RunOnce(ctx context.Context) (*Report, error)
	RunLoop(ctx context.Context) error
}

// Service runs drift checks against the recorded state
type Service struct {
	cloud      CloudReader
	states     StateLoader
	interval   time.Duration
	managedTag string
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// NewService creates a drift checking service
func NewService(cloud CloudReader, states StateLoader, intervalMinutes int, managedTag string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		cloud:      cloud,
		states:     states,
		interval:   time.Duration(intervalMinutes) * time.Minute,
		managedTag: managedTag,
		logger:     logger.With(zap.String("package", packageName)),
	}
}

// SetMetrics attaches engine metrics
func (s *Service) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// RunLoop runs a drift check immediately and then on every tick until the
// context is cancelled. A failing check stops the loop.
func (s *Service) RunLoop(ctx context.Context) error {
	s.logger.Info("Drift check loop starting",
		zap.String("operation", "drift_loop"),
		zap.Duration("interval", s.interval),
	)

	if err := s.runAndLog(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Drift check loop stopped",
				zap.String("operation", "drift_loop"),
			)
			return nil
		case <-ticker.C:
			if err := s.runAndLog(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Service) runAndLog(ctx context.Context) error {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Drift check failed",
			zap.String("operation", "drift_check"),
			zap.Error(err),
		)
		return err
	}
	if report.Clean() {
		s.logger.Info("No drift detected",
			zap.String("operation", "drift_check"),
			zap.Int("resources_checked", report.Checked),
		)
		return nil
	}
	for _, d := range report.Drifts {
		s.logger.Warn("Drift detected",
			zap.String("operation", "drift_check"),
			zap.String("address", d.Address),
			zap.String("field", d.Field),
			zap.String("state_value", d.StateValue),
			zap.String("live_value", d.LiveValue),
			zap.String("severity", string(d.Severity)),
		)
	}
	return nil
}

// RunOnce loads the state, describes every recorded resource live and
// returns a report of all divergences. Resources are checked concurrently.
func (s *Service) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()

	st, err := s.states.Load()
	if err != nil {
		return nil, err
	}

	report := &Report{CheckedAt: start}

	driftCh := make(chan Drift)
	errCh := make(chan error, len(st.Resources)+1)
	var wg sync.WaitGroup

	for i := range st.Resources {
		res := &st.Resources[i]
		if len(res.Instances) == 0 {
			continue
		}
		report.Checked++
		wg.Add(1)
		go func(res *state.Resource) {
			defer wg.Done()
			if err := s.checkResource(ctx, res, driftCh); err != nil {
				errCh <- err
			}
		}(res)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.checkUnmanaged(ctx, st, driftCh); err != nil {
			errCh <- err
		}
	}()

	go func() {
		wg.Wait()
		close(driftCh)
	}()

	for d := range driftCh {
		report.Drifts = append(report.Drifts, d)
		if s.metrics != nil {
			s.metrics.IncDrift(string(d.Severity))
		}
	}
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}

	sortDrifts(report.Drifts)
	if s.metrics != nil {
		s.metrics.ObserveDriftCheck(time.Since(start))
	}
	return report, nil
}

// checkResource describes one recorded resource live and compares it.
// IAM resources and internet gateways have no mutable surface the engine
// tracks, so only their recorded types are verified against state presence.
func (s *Service) checkResource(ctx context.Context, res *state.Resource, ch chan<- Drift) error {
	addr := res.Address()
	inst := &res.Instances[0]
	id := inst.ID()
	if id == "" {
		return errors.New(errors.ErrDriftChecker, "state instance has no recorded id",
			map[string]interface{}{
				"address": addr,
			}, nil)
	}

	switch res.Type {
	case stack.TypeInstance:
		var rec instanceRecord
		if err := decodeRecord(inst, &rec); err != nil {
			return err
		}
		live, err := s.cloud.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		if live == nil {
			ch <- missingDrift(addr, id)
			return nil
		}
		compareInstance(addr, &rec, live, ch)

	case stack.TypeVPC:
		var rec vpcRecord
		if err := decodeRecord(inst, &rec); err != nil {
			return err
		}
		live, err := s.cloud.GetVPC(ctx, id)
		if err != nil {
			return err
		}
		if live == nil {
			ch <- missingDrift(addr, id)
			return nil
		}
		compareVPC(addr, &rec, live, ch)

	case stack.TypeSubnet:
		var rec subnetRecord
		if err := decodeRecord(inst, &rec); err != nil {
			return err
		}
		live, err := s.cloud.GetSubnet(ctx, id)
		if err != nil {
			return err
		}
		if live == nil {
			ch <- missingDrift(addr, id)
			return nil
		}
		compareSubnet(addr, &rec, live, ch)

	case stack.TypeSecurityGroup:
		var rec sgRecord
		if err := decodeRecord(inst, &rec); err != nil {
			return err
		}
		live, err := s.cloud.GetSecurityGroup(ctx, id)
		if err != nil {
			return err
		}
		if live == nil {
			ch <- missingDrift(addr, id)
			return nil
		}
		compareSecurityGroup(addr, &rec, live, ch)
	}
	return nil
}

// checkUnmanaged flags live instances carrying the managed tag that state
// does not know about
func (s *Service) checkUnmanaged(ctx context.Context, st *state.State, ch chan<- Drift) error {
	if s.managedTag == "" {
		return nil
	}
	live, err := s.cloud.ListInstancesByTag(ctx, "ManagedBy", s.managedTag)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for i := range st.Resources {
		res := &st.Resources[i]
		if res.Type != stack.TypeInstance {
			continue
		}
		for j := range res.Instances {
			known[res.Instances[j].ID()] = true
		}
	}

	for _, inst := range live {
		if known[inst.InstanceID] {
			continue
		}
		addr := stack.TypeInstance + "." + inst.InstanceID
		if name := inst.Tags["Name"]; name != "" {
			addr = stack.TypeInstance + "." + name
		}
		ch <- Drift{
			Address:   addr,
			Field:     FieldExistence,
			LiveValue: inst.InstanceID,
			Severity:  SeverityHigh,
		}
	}
	return nil
}

func missingDrift(addr, id string) Drift {
	return Drift{
		Address:    addr,
		Field:      FieldExistence,
		StateValue: id,
		Severity:   SeverityCritical,
	}
}
