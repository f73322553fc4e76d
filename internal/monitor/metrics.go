package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"cronradar/internal/shared"
)

// Metrics exposes notification and registration counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	notifications *prometheus.CounterVec
	registrations *prometheus.CounterVec
	dropped       prometheus.Counter
	monitored     prometheus.Gauge
}

// NewMetrics creates and registers the collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Lifecycle notifications sent to the remote service by operation and result",
			},
			[]string{"op", "result"},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Monitor sync calls by result",
			},
			[]string{"result"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_dropped_total",
				Help:      "Notifications dropped because the dispatch queue was full or closed",
			},
		),
		monitored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitored_tasks",
				Help:      "Number of tasks with monitoring hooks attached",
			},
		),
	}

	reg.MustRegister(m.notifications, m.registrations, m.dropped, m.monitored)
	return m
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return shared.KindOf(err).String()
}

func (m *Metrics) recordNotification(op string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) recordRegistration(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) setMonitored(n int) {
	if m == nil {
		return
	}
	m.monitored.Set(float64(n))
}
