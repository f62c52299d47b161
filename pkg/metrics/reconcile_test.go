package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, metric := range family.GetMetric() {
			got := map[string]string{}
			for _, pair := range metric.GetLabel() {
				got[pair.GetName()] = pair.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name && family.GetType() == dto.MetricType_HISTOGRAM {
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestReconcileMetricsCountByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconcileMetrics(reg)

	m.IncApplied("webhook", "paid")
	m.IncApplied("webhook", "paid")
	m.IncNoop("poll", "paid")
	m.IncRejected("webhook", "cancelled")
	m.IncAnomaly()

	assert.Equal(t, 2.0, counterValue(t, reg, "reconcile_transitions_applied", map[string]string{"source": "webhook", "status": "paid"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "reconcile_transitions_noop", map[string]string{"source": "poll", "status": "paid"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "reconcile_transitions_rejected", map[string]string{"source": "webhook", "status": "cancelled"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "reconcile_terminal_anomalies", nil))
}

func TestReconcileMetricsNilSafe(t *testing.T) {
	var m *ReconcileMetrics
	m.IncApplied("webhook", "paid")
	m.IncAnomaly()

	empty := NewReconcileMetrics(nil)
	empty.IncNoop("poll", "pending")
}

func TestCronJobMetricsRecordRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveDuration("expired-transactions", 120*time.Millisecond)
	m.IncSuccess("expired-transactions")
	m.IncFailure("expired-transactions")

	assert.Equal(t, uint64(1), histogramCount(t, reg, "job_duration_seconds"))
	assert.Equal(t, 1.0, counterValue(t, reg, "job_success", map[string]string{"job": "expired-transactions"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "job_failure", map[string]string{"job": "expired-transactions"}))
}
