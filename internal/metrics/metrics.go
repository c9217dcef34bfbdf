// Package metrics holds the Prometheus collectors of the kiosk.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events      *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Remaining   prometheus.Gauge
	Present     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "attendance_events_total",
			Help:      "Attendance events received, by outcome.",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "session_transitions_total",
			Help:      "Class session phase transitions.",
		}, []string{"phase"}),
		Remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiosk",
			Name:      "session_remaining_seconds",
			Help:      "Seconds left in the running class session.",
		}),
		Present: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiosk",
			Name:      "roster_present",
			Help:      "Students checked in to the current session.",
		}),
	}
	reg.MustRegister(m.Events, m.Transitions, m.Remaining, m.Present)
	return m
}

// Event counts one attendance event outcome.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(outcome).Inc()
}

// Transition counts a move into phase.
func (m *Metrics) Transition(phase string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(phase).Inc()
}

// SetRemaining records the remaining seconds of the running session.
func (m *Metrics) SetRemaining(seconds int64) {
	if m == nil {
		return
	}
	m.Remaining.Set(float64(seconds))
}

// SetPresent records the roster size.
func (m *Metrics) SetPresent(n int) {
	if m == nil {
		return
	}
	m.Present.Set(float64(n))
}
