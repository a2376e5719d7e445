package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts lifecycle outcomes. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	published   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	stale       *prometheus.CounterVec
	caughtUp    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitd_lifecycle_events_published_total",
			Help: "Lifecycle events published, by topic.",
		}, []string{"topic"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitd_study_transitions_total",
			Help: "Study progress transitions made by timers, by target progress.",
		}, []string{"to"}),
		stale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitd_lifecycle_stale_total",
			Help: "Timer executions skipped because the schedule changed or disappeared.",
		}, []string{"kind"}),
		caughtUp: f.NewCounter(prometheus.CounterOpts{
			Name: "recruitd_lifecycle_catchup_schedules_total",
			Help: "Schedules converged by reconciliation or the boundary sweep.",
		}),
	}
}

func (m *Metrics) incPublished(topic string) {
	if m != nil {
		m.published.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) incTransition(to string) {
	if m != nil {
		m.transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) incStale(kind Kind) {
	if m != nil {
		m.stale.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) incCaughtUp() {
	if m != nil {
		m.caughtUp.Inc()
	}
}
