// Package telemetry exposes the worker's Prometheus metrics. Every method is
// safe to call on a nil *Metrics so library code can record unconditionally.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docflow"

// Metrics holds the worker's collectors.
type Metrics struct {
	documents       *prometheus.CounterVec
	actionsSelected *prometheus.CounterVec
	settings        *prometheus.CounterVec
	compilations    *prometheus.CounterVec
	poison          prometheus.Counter
	failureRecords  *prometheus.CounterVec
	checks          *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents handled, by hop and outcome.",
		}, []string{"phase", "outcome"}),
		actionsSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_selected_total",
			Help:      "Workflow actions selected for documents.",
		}, []string{"workflow", "action"}),
		settings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_requests_total",
			Help:      "Settings service lookups, by path (cached or refresh) and outcome.",
		}, []string{"mode", "outcome"}),
		compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_compilations_total",
			Help:      "Workflow compilations, by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		poison: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poison_documents_total",
			Help:      "Re-delivered documents whose settings were trusted without re-resolution.",
		}),
		failureRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_records_total",
			Help:      "Failure records written, by kind (failure, warning, suppressed).",
		}, []string{"kind"}),
		checks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_up",
			Help:      "1 when the named health check last passed, 0 otherwise.",
		}, []string{"check"}),
	}

	for _, c := range []prometheus.Collector{
		m.documents, m.actionsSelected, m.settings, m.compilations,
		m.poison, m.failureRecords, m.checks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Document counts a processed document.
func (m *Metrics) Document(phase, outcome string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(phase, outcome).Inc()
}

// ActionSelected counts an action selection.
func (m *Metrics) ActionSelected(workflow, action string) {
	if m == nil {
		return
	}
	m.actionsSelected.WithLabelValues(workflow, action).Inc()
}

// SettingsRequest counts a settings service lookup.
func (m *Metrics) SettingsRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.settings.WithLabelValues(mode, outcome).Inc()
}

// Compilation counts a workflow compilation.
func (m *Metrics) Compilation(workflow, outcome string) {
	if m == nil {
		return
	}
	m.compilations.WithLabelValues(workflow, outcome).Inc()
}

// PoisonDocument counts a poison document.
func (m *Metrics) PoisonDocument() {
	if m == nil {
		return
	}
	m.poison.Inc()
}

// FailureRecords adds n records of the given kind.
func (m *Metrics) FailureRecords(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.failureRecords.WithLabelValues(kind).Add(float64(n))
}

// CheckStatus records the result of a health check.
func (m *Metrics) CheckStatus(check string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.checks.WithLabelValues(check).Set(v)
}
