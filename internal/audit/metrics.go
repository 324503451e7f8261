package audit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the audit trail.
type Metrics struct {
	records  *prometheus.CounterVec
	failures prometheus.Counter
	risk     prometheus.Histogram
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the audit metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func (m *Metrics) observe(rec Record) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(rec.EntityType, string(rec.Action), string(rec.Compliance)).Inc()
	m.risk.Observe(float64(rec.RiskScore))
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_crm_audit_records_total",
		Help: "Audit records produced, partitioned by entity, action and compliance level.",
	}, []string{"entity", "action", "compliance"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_crm_audit_write_failures_total",
		Help: "Audit records that could not be persisted.",
	})
	risk := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_crm_audit_risk_score",
		Help:    "Distribution of computed audit risk scores.",
		Buckets: []float64{5, 10, 25, 50, 75, 100},
	})
	registerer.MustRegister(records, failures, risk)
	return &Metrics{records: records, failures: failures, risk: risk}
}
