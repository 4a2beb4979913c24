package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MCP metrics
	mcpToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	mcpToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_mcp_tool_call_duration_seconds",
			Help:    "MCP tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Playground metrics
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_events_total",
			Help: "Total number of dispatched playground events",
		},
		[]string{"event"},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_evaluations_total",
			Help: "Total number of program runs and REPL evaluations",
		},
		[]string{"kind", "outcome"},
	)

	evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_evaluation_duration_seconds",
			Help:    "Evaluation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	persistWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_persist_writes_total",
			Help: "Total number of shareable-location writes",
		},
		[]string{"status"},
	)

	tokenBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playground_token_bytes",
			Help:    "Size of encoded share tokens in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	decodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_decode_failures_total",
			Help: "Total number of share tokens that failed to decode",
		},
	)

	// Session gauges
	sessionEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playground_session_epoch",
			Help: "Current interpreter epoch",
		},
	)

	transcriptLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playground_transcript_length",
			Help: "Number of interactions in the current transcript",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			mcpToolCallsTotal,
			mcpToolCallDuration,
			eventsTotal,
			evaluationsTotal,
			evaluationDuration,
			persistWritesTotal,
			tokenBytes,
			decodeFailuresTotal,
			sessionEpoch,
			transcriptLength,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMCPToolCall records MCP tool call metrics
func RecordMCPToolCall(tool, status string, duration time.Duration) {
	mcpToolCallsTotal.WithLabelValues(tool, status).Inc()
	mcpToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordEvent counts a dispatched event
func RecordEvent(event string) {
	eventsTotal.WithLabelValues(event).Inc()
}

// RecordEvaluation records a program run ("run") or REPL line ("eval")
func RecordEvaluation(kind, outcome string, duration time.Duration) {
	evaluationsTotal.WithLabelValues(kind, outcome).Inc()
	evaluationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPersist records a shareable-location write and the token size
func RecordPersist(status string, size int) {
	persistWritesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		tokenBytes.Observe(float64(size))
	}
}

// RecordDecodeFailure counts a token that did not decode
func RecordDecodeFailure() {
	decodeFailuresTotal.Inc()
}

// SetSessionGauges sets the epoch and transcript gauges
func SetSessionGauges(epoch, transcript int) {
	sessionEpoch.Set(float64(epoch))
	transcriptLength.Set(float64(transcript))
}
