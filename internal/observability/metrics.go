// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	PriceUpdatesProcessed prometheus.Counter
	MalformedMessages     prometheus.Counter
	ReconnectAttempts     prometheus.Counter
	AuthBlocks            prometheus.Counter
	StreamOpens           prometheus.Counter

	// Evaluation metrics
	AlertsSent         *prometheus.CounterVec
	AlertsSuppressed   prometheus.Counter
	CollaboratorErrors *prometheus.CounterVec
	EvaluationLatency  prometheus.Histogram

	// Fallback metrics
	FallbackTicks      prometheus.Counter
	FallbackPriceCalls *prometheus.CounterVec

	// Tracking metrics
	TrackedTokens prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_sentinel"
	}

	return &Metrics{
		PriceUpdatesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "price_updates_processed_total",
			Help:      "Total number of inbound price updates processed",
		}),
		MalformedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "malformed_messages_total",
			Help:      "Total number of inbound messages dropped as malformed",
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		AuthBlocks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "auth_blocks_total",
			Help:      "Total number of authentication failures blocking the stream",
		}),
		StreamOpens: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "opens_total",
			Help:      "Total number of successful stream opens",
		}),

		AlertsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Total number of alerts sent by kind",
		}, []string{"kind"}),
		AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Total number of alerts suppressed by deduplication",
		}),
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "collaborator_errors_total",
			Help:      "Total number of swallowed collaborator failures",
		}, []string{"collaborator"}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "evaluation_latency_seconds",
			Help:      "Per-observation evaluation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		FallbackTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "ticks_total",
			Help:      "Total number of fallback polling ticks",
		}),
		FallbackPriceCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "price_calls_total",
			Help:      "Total number of fallback price API calls by status",
		}, []string{"status"}),

		TrackedTokens: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "tracked_tokens",
			Help:      "Current number of tracked tokens",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPriceUpdate increments the price updates processed counter.
func RecordPriceUpdate() {
	DefaultMetrics.PriceUpdatesProcessed.Inc()
}

// RecordMalformedMessage increments the malformed messages counter.
func RecordMalformedMessage() {
	DefaultMetrics.MalformedMessages.Inc()
}

// RecordReconnectAttempt increments the reconnect attempts counter.
func RecordReconnectAttempt() {
	DefaultMetrics.ReconnectAttempts.Inc()
}

// RecordAuthBlock increments the auth blocks counter.
func RecordAuthBlock() {
	DefaultMetrics.AuthBlocks.Inc()
}

// RecordStreamOpen increments the stream opens counter.
func RecordStreamOpen() {
	DefaultMetrics.StreamOpens.Inc()
}

// RecordAlertSent records one sent alert of the given kind
// ("profit", "stop_loss", "ichimoku").
func RecordAlertSent(kind string) {
	DefaultMetrics.AlertsSent.WithLabelValues(kind).Inc()
}

// RecordAlertSuppressed increments the dedup suppression counter.
func RecordAlertSuppressed() {
	DefaultMetrics.AlertsSuppressed.Inc()
}

// RecordCollaboratorError records a swallowed collaborator failure.
func RecordCollaboratorError(collaborator string) {
	DefaultMetrics.CollaboratorErrors.WithLabelValues(collaborator).Inc()
}

// RecordFallbackTick increments the fallback tick counter.
func RecordFallbackTick() {
	DefaultMetrics.FallbackTicks.Inc()
}

// RecordFallbackPriceCall records one fallback price API call.
func RecordFallbackPriceCall(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.FallbackPriceCalls.WithLabelValues(status).Inc()
}

// SetTrackedTokens updates the tracked-token gauge.
func SetTrackedTokens(n int) {
	DefaultMetrics.TrackedTokens.Set(float64(n))
}
