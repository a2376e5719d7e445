package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the registry's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	armed     prometheus.Gauge
	fired     *prometheus.CounterVec
	stale     *prometheus.CounterVec
	pastDue   *prometheus.CounterVec
	dispatchE prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		armed: f.NewGauge(prometheus.GaugeOpts{
			Name: "recruitd_timers_armed",
			Help: "Number of schedule timers currently armed",
		}),
		fired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitd_timers_fired_total",
			Help: "Schedule timers that fired and were dispatched",
		}, []string{"kind"}),
		stale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitd_timers_stale_total",
			Help: "Timer callbacks discarded because the schedule was re-registered or cancelled",
		}, []string{"kind"}),
		pastDue: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitd_timers_past_due_total",
			Help: "Timers skipped at registration because their instant had already passed",
		}, []string{"kind"}),
		dispatchE: f.NewCounter(prometheus.CounterOpts{
			Name: "recruitd_timer_dispatch_errors_total",
			Help: "Fired timers the task engine refused",
		}),
	}
}

func (m *Metrics) setArmed(n int) {
	if m != nil {
		m.armed.Set(float64(n))
	}
}

func (m *Metrics) incFired(kind string) {
	if m != nil {
		m.fired.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incStale(kind string) {
	if m != nil {
		m.stale.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incPastDue(kind string) {
	if m != nil {
		m.pastDue.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) incDispatchError() {
	if m != nil {
		m.dispatchE.Inc()
	}
}
