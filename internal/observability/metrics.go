package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for fence.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Upstream LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Security metrics. One counter per rejection, labeled by the error kind
	// (path_escape, dangerous_pattern, unsupported_command, disallowed_argument).
	SecurityRejectionsTotal *prometheus.CounterVec

	// Rate limiter metrics.
	RateLimitRejectionsTotal prometheus.Counter

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration prometheus.Histogram

	// Session metrics.
	SessionsActive       prometheus.Gauge
	SessionsExpiredTotal prometheus.Counter

	// HTTP proxy metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total upstream LLM API requests.",
		}, []string{"model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fence",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Upstream LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"model", "direction"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fence",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		SecurityRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "security",
			Name:      "rejections_total",
			Help:      "Total inputs rejected by a security gate.",
		}, []string{"kind"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total commands rejected by the rate limiter.",
		}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandboxed process executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fence",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandboxed process execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fence",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live sessions.",
		}),

		SessionsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Total sessions removed by the idle sweeper.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fence",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fence",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fence",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.SecurityRejectionsTotal,
		m.RateLimitRejectionsTotal,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.SessionsActive,
		m.SessionsExpiredTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordToolExecution records one tool run. Rejections carry the error kind
// so security denials are countable separately from execution failures.
func (m *MetricsCollector) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordSecurityRejection counts one rejected input by error kind.
func (m *MetricsCollector) RecordSecurityRejection(kind string) {
	if m == nil {
		return
	}
	m.SecurityRejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimitRejection counts one rate-limited command.
func (m *MetricsCollector) RecordRateLimitRejection() {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.Inc()
}
