package mutation

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeReconciled  = "reconciled"
	outcomeRolledBack  = "rolled_back"
	outcomeApplyFailed = "apply_failed"
)

// Metrics exposes Prometheus collectors for optimistic mutations.
type Metrics struct {
	total    *prometheus.CounterVec
	inFlight prometheus.Gauge
	remote   *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the mutation metrics against the provided registerer.
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

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) settled(entity, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.total.WithLabelValues(entity, outcome).Inc()
	m.remote.WithLabelValues(entity).Observe(elapsed.Seconds())
}

func (m *Metrics) applyFailed(entity string) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(entity, outcomeApplyFailed).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_crm_mutations_total",
		Help: "Optimistic mutations by entity and outcome.",
	}, []string{"entity", "outcome"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_crm_mutations_in_flight",
		Help: "Mutations whose remote call has not settled yet.",
	})
	remote := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_crm_mutation_remote_seconds",
		Help:    "Latency of the remote half of optimistic mutations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"entity"})
	registerer.MustRegister(total, inFlight, remote)
	return &Metrics{total: total, inFlight: inFlight, remote: remote}
}
