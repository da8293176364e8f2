package monitoring_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/monitoring"
)

func TestMetrics_ObserveApplyStep(t *testing.T) {
	m := monitoring.NewMetrics()

	m.ObserveApplyStep("create", true, 10*time.Millisecond)
	m.ObserveApplyStep("create", false, 20*time.Millisecond)
	m.ObserveApplyStep("delete", true, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApplyStepsTotal.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApplyStepsTotal.WithLabelValues("create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApplyStepsTotal.WithLabelValues("delete", "success")))
}

func TestMetrics_DriftCounters(t *testing.T) {
	m := monitoring.NewMetrics()

	m.ObserveDriftCheck(100 * time.Millisecond)
	m.ObserveDriftCheck(200 * time.Millisecond)
	m.IncDrift("critical")
	m.IncDrift("critical")
	m.IncDrift("low")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DriftChecksTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DriftsDetected.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftsDetected.WithLabelValues("low")))
}

func TestMetrics_RegistryGathers(t *testing.T) {
	m := monitoring.NewMetrics()
	m.IncDrift("high")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "stackpilot_drifts_detected_total")
}
