package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aimtrainer"

// Metrics groups the game counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RoundsStarted   prometheus.Counter
	RoundsEnded     prometheus.Counter
	Hits            prometheus.Counter
	Misses          prometheus.Counter
	PersistFailures *prometheus.CounterVec
	ClicksDropped   prometheus.Counter
	LiveSessions    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Rounds started.",
		}),
		RoundsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_ended_total",
			Help:      "Rounds that ran down to zero.",
		}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Clicks that landed on the current target.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Clicks that missed the current target.",
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Dropped session writes, by sink.",
		}, []string{"sink"}),
		ClicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "click_events_dropped_total",
			Help:      "Click events dropped because the write buffer was full.",
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Profiles with a live round controller.",
		}),
	}
	reg.MustRegister(
		m.RoundsStarted,
		m.RoundsEnded,
		m.Hits,
		m.Misses,
		m.PersistFailures,
		m.ClicksDropped,
		m.LiveSessions,
	)
	return m
}

func (m *Metrics) RoundStarted() {
	if m != nil {
		m.RoundsStarted.Inc()
	}
}

func (m *Metrics) RoundEnded() {
	if m != nil {
		m.RoundsEnded.Inc()
	}
}

func (m *Metrics) Hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) PersistFailed(sink string) {
	if m != nil {
		m.PersistFailures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) ClickDropped() {
	if m != nil {
		m.ClicksDropped.Inc()
	}
}

func (m *Metrics) SetLiveSessions(n int) {
	if m != nil {
		m.LiveSessions.Set(float64(n))
	}
}
