package sweeper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: a nil *Metrics or one built without a registerer
// records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	transitioned prometheus.Counter
	reminders    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "layby_sweep_runs_total",
		Help: "Overdue sweep cycles by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "layby_sweep_duration_seconds",
		Help:    "Duration of overdue sweep cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	transitioned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "layby_sweep_transitioned_total",
		Help: "Layby orders moved to overdue by the sweeper.",
	})
	reminders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "layby_sweep_reminders_total",
		Help: "Automatic reminders recorded by the sweeper.",
	})
	reg.MustRegister(runs, duration, transitioned, reminders)
	return &Metrics{
		runs:         runs,
		duration:     duration,
		transitioned: transitioned,
		reminders:    reminders,
	}
}

func (m *Metrics) observeRun(outcome string, elapsed time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) addTransitioned(n int) {
	if m == nil || m.transitioned == nil || n <= 0 {
		return
	}
	m.transitioned.Add(float64(n))
}

func (m *Metrics) addReminders(n int) {
	if m == nil || m.reminders == nil || n <= 0 {
		return
	}
	m.reminders.Add(float64(n))
}
