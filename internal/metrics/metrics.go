// Package metrics provides Prometheus metrics for the dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dashboard.
type Metrics struct {
	EventsTotal           *prometheus.CounterVec
	SyntheticDeletesTotal prometheus.Counter
	DeliveryFailures      *prometheus.CounterVec
	TrackedIssues         prometheus.Gauge
	ConnectedClients      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_events_total",
				Help: "Total change events dispatched, by topic and type.",
			},
			[]string{"topic", "type"},
		),
		SyntheticDeletesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_synthetic_deletes_total",
				Help: "Synthetic DELETED events emitted on unhealthy-to-healthy transitions.",
			},
		),
		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_delivery_failures_total",
				Help: "Per-room emit failures, swallowed after logging.",
			},
			[]string{"room"},
		),
		TrackedIssues: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashboard_tracked_issues",
				Help: "Shoots currently in the issue-tracking set.",
			},
		),
		ConnectedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashboard_connected_clients",
				Help: "Currently connected websocket clients.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.SyntheticDeletesTotal)
	reg.MustRegister(m.DeliveryFailures)
	reg.MustRegister(m.TrackedIssues)
	reg.MustRegister(m.ConnectedClients)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent increments the event counter.
func (m *Metrics) RecordEvent(topicName, eventType string) {
	m.EventsTotal.WithLabelValues(topicName, eventType).Inc()
}

// RecordSyntheticDelete increments the synthetic delete counter.
func (m *Metrics) RecordSyntheticDelete() {
	m.SyntheticDeletesTotal.Inc()
}

// RecordDeliveryFailure increments the per-room failure counter.
func (m *Metrics) RecordDeliveryFailure(room string) {
	m.DeliveryFailures.WithLabelValues(room).Inc()
}

// SetTrackedIssues sets the issue-tracking set size.
func (m *Metrics) SetTrackedIssues(n int) {
	m.TrackedIssues.Set(float64(n))
}

// ClientConnected increments the connected clients gauge.
func (m *Metrics) ClientConnected() {
	m.ConnectedClients.Inc()
}

// ClientDisconnected decrements the connected clients gauge.
func (m *Metrics) ClientDisconnected() {
	m.ConnectedClients.Dec()
}
