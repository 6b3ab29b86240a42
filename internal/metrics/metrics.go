// Package metrics provides Prometheus metrics for the funnel service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	LeadsTotal       *prometheus.CounterVec
	ExitIntentsTotal *prometheus.CounterVec
	LiveSessions     prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec
	DBSizeBytes      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_http_requests_total",
				Help: "Total number of API requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "funnel_http_request_duration_seconds",
				Help:    "API request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		LeadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_leads_total",
				Help: "Lead submissions by source and result.",
			},
			[]string{"source", "result"},
		),
		ExitIntentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_exit_intent_fired_total",
				Help: "Exit-intent popups triggered by detection mode.",
			},
			[]string{"mode"},
		),
		LiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "funnel_live_sessions",
				Help: "Number of connected exit-intent sessions.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "funnel_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.LeadsTotal)
	reg.MustRegister(m.ExitIntentsTotal)
	reg.MustRegister(m.LiveSessions)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.DBSizeBytes)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordLead counts a lead submission. result is "created", "existing" or "rejected".
func (m *Metrics) RecordLead(source, result string) {
	m.LeadsTotal.WithLabelValues(source, result).Inc()
}

// RecordExitIntent counts a popup trigger.
func (m *Metrics) RecordExitIntent(mode string) {
	m.ExitIntentsTotal.WithLabelValues(mode).Inc()
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened() { m.LiveSessions.Inc() }

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed() { m.LiveSessions.Dec() }

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes int64) {
	m.DBSizeBytes.Set(float64(bytes))
}
