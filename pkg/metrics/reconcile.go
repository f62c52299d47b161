package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics counts status transition outcomes by trigger source.
type ReconcileMetrics struct {
	applied   *prometheus.CounterVec
	noop      *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	anomalies prometheus.Counter
}

// NewReconcileMetrics registers the reconciliation metrics on the provided
// registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_transitions_applied",
		Help: "Status transitions durably applied to a transaction.",
	}, []string{"source", "status"})
	noop := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_transitions_noop",
		Help: "Duplicate notifications absorbed without effect.",
	}, []string{"source", "status"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_transitions_rejected",
		Help: "Illegal transition attempts rejected by the engine.",
	}, []string{"source", "status"})
	anomalies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_terminal_anomalies",
		Help: "Notifications contradicting an already-terminal status.",
	})
	reg.MustRegister(applied, noop, rejected, anomalies)
	return &ReconcileMetrics{
		applied:   applied,
		noop:      noop,
		rejected:  rejected,
		anomalies: anomalies,
	}
}

// IncApplied records a durably applied transition.
func (m *ReconcileMetrics) IncApplied(source, status string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
}

// IncNoop records an absorbed duplicate.
func (m *ReconcileMetrics) IncNoop(source, status string) {
	if m == nil || m.noop == nil {
		return
	}
	m.noop.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
}

// IncRejected records a rejected transition attempt.
func (m *ReconcileMetrics) IncRejected(source, status string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
}

// IncAnomaly records a terminal-status contradiction.
func (m *ReconcileMetrics) IncAnomaly() {
	if m == nil || m.anomalies == nil {
		return
	}
	m.anomalies.Inc()
}
