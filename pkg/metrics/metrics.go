// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ExchangeDuration tracks full send/stream exchange duration.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_duration_seconds",
			Help:    "Conversation exchange duration from send to finalize",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "status"},
	)

	// ExchangeCancellations tracks user-cancelled exchanges.
	ExchangeCancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_cancellations_total",
			Help: "Total exchanges cancelled mid-stream",
		},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// FileResolutionsTotal tracks file reference resolutions by source.
	FileResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_resolutions_total",
			Help: "File reference resolutions by winning strategy",
		},
		[]string{"source"},
	)

	// FileCacheSize tracks the number of entries in the file content cache.
	FileCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "file_cache_entries",
			Help: "Entries currently held by the file content cache",
		},
	)

	// CompressionsTotal tracks context compressions by summary mode.
	CompressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_compressions_total",
			Help: "Context compressions by summary mode (llm or heuristic)",
		},
		[]string{"mode"},
	)

	// StreamFramesSkipped tracks malformed stream frames dropped per provider.
	StreamFramesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frames_skipped_total",
			Help: "Malformed streaming frames skipped without aborting",
		},
		[]string{"provider"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// ConversationsExpired tracks conversations removed by retention cleanup.
	ConversationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_expired_total",
			Help: "Conversations removed by age-based cleanup",
		},
	)

	// MessagesTotal tracks total messages appended.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordExchange records metrics for a completed exchange.
func RecordExchange(provider, status string, duration float64, tokensIn, tokensOut int) {
	ExchangeDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// RecordResolution records the winning strategy for a file resolution.
func RecordResolution(source string) {
	FileResolutionsTotal.WithLabelValues(source).Inc()
}

// RecordCompression records a context compression.
func RecordCompression(mode string) {
	CompressionsTotal.WithLabelValues(mode).Inc()
}

// RecordSkippedFrame records a malformed stream frame that was dropped.
func RecordSkippedFrame(provider string) {
	StreamFramesSkipped.WithLabelValues(provider).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
