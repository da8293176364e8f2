// Package monitoring covers both sides of observability: the engine's own
// Prometheus metrics and the scrape configuration rendered for a provisioned
// stack.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	packageName = "monitoring"
)

// Metrics holds the engine's instrumentation
type Metrics struct {
	registry *prometheus.Registry

	DriftChecksTotal   prometheus.Counter
	DriftsDetected     *prometheus.CounterVec
	DriftCheckDuration prometheus.Histogram
	ApplyStepsTotal    *prometheus.CounterVec
	ApplyStepDuration  prometheus.Histogram
}

// NewMetrics builds a metrics set on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DriftChecksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stackpilot_drift_checks_total",
			Help: "Number of drift check runs.",
		}),
		DriftsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stackpilot_drifts_detected_total",
			Help: "Number of drifts detected, by severity.",
		}, []string{"severity"}),
		DriftCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stackpilot_drift_check_duration_seconds",
			Help:    "Duration of drift check runs.",
			Buckets: prometheus.DefBuckets,
		}),
		ApplyStepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stackpilot_apply_steps_total",
			Help: "Number of apply steps executed, by action and result.",
		}, []string{"action", "result"}),
		ApplyStepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stackpilot_apply_step_duration_seconds",
			Help:    "Duration of individual apply steps.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveApplyStep records one executed apply step
func (m *Metrics) ObserveApplyStep(action string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.ApplyStepsTotal.WithLabelValues(action, result).Inc()
	m.ApplyStepDuration.Observe(d.Seconds())
}

// ObserveDriftCheck records one completed drift check run
func (m *Metrics) ObserveDriftCheck(d time.Duration) {
	m.DriftChecksTotal.Inc()
	m.DriftCheckDuration.Observe(d.Seconds())
}

// IncDrift counts a detected drift by severity
func (m *Metrics) IncDrift(severity string) {
	m.DriftsDetected.WithLabelValues(severity).Inc()
}

// Serve exposes /metrics until the context is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	logger := zap.L().With(zap.String("package", packageName))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listener starting",
		zap.String("operation", "metrics_serve"),
		zap.String("addr", addr),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
