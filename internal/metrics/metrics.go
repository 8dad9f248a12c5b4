// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the monitor.
type Metrics struct {
	// Counters
	entriesParsed        prometheus.Counter
	parseErrors          prometheus.Counter
	sessionsOpened       prometheus.Counter
	sessionsClosed       prometheus.Counter
	alertsRaised         *prometheus.CounterVec
	notificationsDropped prometheus.Counter

	// Gauges
	activeSessions  prometheus.Gauge
	logEntriesCount prometheus.Gauge
	sessionsCount   prometheus.Gauge

	// Histograms
	entryProcessingDuration prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		entriesParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "potwatch_entries_parsed_total",
			Help: "Total number of log lines parsed into entries",
		}),
		parseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "potwatch_parse_errors_total",
			Help: "Total number of log lines that failed to parse",
		}),
		sessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "potwatch_sessions_opened_total",
			Help: "Total number of sessions created by the aggregator",
		}),
		sessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "potwatch_sessions_closed_total",
			Help: "Total number of sessions finalized by disconnect or timeout",
		}),
		alertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "potwatch_alerts_raised_total",
			Help: "Total number of alerts raised, by kind",
		}, []string{"kind"}),
		notificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "potwatch_notifications_dropped_total",
			Help: "Total number of bus notifications dropped on full subscriber buffers",
		}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "potwatch_active_sessions",
			Help: "Number of sessions currently open",
		}),
		logEntriesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "potwatch_log_entries_in_store",
			Help: "Number of log entries resident in the store",
		}),
		sessionsCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "potwatch_sessions_in_store",
			Help: "Number of sessions resident in the store",
		}),
		entryProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "potwatch_entry_processing_duration_seconds",
			Help:    "Time spent aggregating one log entry into its session",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncEntriesParsed increments the parsed-entries counter.
func (m *Metrics) IncEntriesParsed() {
	m.entriesParsed.Inc()
}

// IncParseErrors increments the parse-errors counter.
func (m *Metrics) IncParseErrors() {
	m.parseErrors.Inc()
}

// IncSessionsOpened increments the opened-sessions counter.
func (m *Metrics) IncSessionsOpened() {
	m.sessionsOpened.Inc()
}

// IncSessionsClosed increments the closed-sessions counter.
func (m *Metrics) IncSessionsClosed() {
	m.sessionsClosed.Inc()
}

// IncAlertsRaised increments the alert counter for one kind.
func (m *Metrics) IncAlertsRaised(kind string) {
	m.alertsRaised.WithLabelValues(kind).Inc()
}

// IncNotificationsDropped increments the dropped-notifications counter.
func (m *Metrics) IncNotificationsDropped() {
	m.notificationsDropped.Inc()
}

// SetActiveSessions updates the active-sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetLogEntriesInStore updates the resident-log-entries gauge.
func (m *Metrics) SetLogEntriesInStore(n int) {
	m.logEntriesCount.Set(float64(n))
}

// SetSessionsInStore updates the resident-sessions gauge.
func (m *Metrics) SetSessionsInStore(n int) {
	m.sessionsCount.Set(float64(n))
}

// ObserveEntryProcessingDuration records one aggregation duration in seconds.
func (m *Metrics) ObserveEntryProcessingDuration(seconds float64) {
	m.entryProcessingDuration.Observe(seconds)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
