package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice bot service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Call metrics
	CallsActive  prometheus.Gauge
	CallsTotal   prometheus.Counter
	CallDuration prometheus.Histogram

	// Audio bridge metrics
	FramesForwarded *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	BargeIns        *prometheus.CounterVec

	// Tool metrics
	ToolInvocations *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	RoleResolutions *prometheus.CounterVec

	// Post-call pipeline metrics
	PipelineRuns    *prometheus.CounterVec
	PipelineRetries *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default registerer
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebot_calls_active",
			Help: "Current number of registered call sessions",
		}),
		CallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebot_calls_total",
			Help: "Total number of calls accepted",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebot_call_duration_seconds",
			Help:    "Duration of calls from accept to teardown",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43 minutes
		}),

		FramesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_frames_forwarded_total",
			Help: "Total number of audio frames delivered to a sink",
		}, []string{"direction"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_frames_dropped_total",
			Help: "Total number of audio frames dropped by the bridge",
		}, []string{"direction", "reason"}),
		BargeIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_barge_ins_total",
			Help: "Total number of caller interruptions of assistant audio",
		}, []string{"source"}),

		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_tool_invocations_total",
			Help: "Total number of terminal tool invocations",
		}, []string{"kind", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicebot_tool_duration_seconds",
			Help:    "Duration of tool invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"kind"}),
		RoleResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_role_resolutions_total",
			Help: "Total number of caller role resolutions",
		}, []string{"source"}),

		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_pipeline_runs_total",
			Help: "Total number of post-call pipeline runs",
		}, []string{"outcome"}),
		PipelineRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_pipeline_retries_total",
			Help: "Total number of post-call stage retries",
		}, []string{"stage"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicebot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebot_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCallStarted increments the accepted calls counter
func (m *Metrics) RecordCallStarted() {
	if m == nil {
		return
	}
	m.CallsTotal.Inc()
}

// RecordCallEnded observes the duration of a finished call
func (m *Metrics) RecordCallEnded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.CallDuration.Observe(durationSeconds)
}

// SetActiveCalls sets the current number of registered sessions
func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.CallsActive.Set(float64(count))
}

// RecordFrameForwarded counts a frame written to its sink
func (m *Metrics) RecordFrameForwarded(direction string) {
	if m == nil {
		return
	}
	m.FramesForwarded.WithLabelValues(direction).Inc()
}

// RecordFrameDropped counts a frame the bridge refused or discarded
func (m *Metrics) RecordFrameDropped(direction, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(direction, reason).Inc()
}

// RecordFramesLost counts sequence numbers skipped by a jitter buffer
func (m *Metrics) RecordFramesLost(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesDropped.WithLabelValues(direction, "lost").Add(float64(n))
}

// RecordBargeIn counts an interruption; source is "engine" or "vad"
func (m *Metrics) RecordBargeIn(source string) {
	if m == nil {
		return
	}
	m.BargeIns.WithLabelValues(source).Inc()
}

// RecordToolInvocation records a terminal tool invocation
func (m *Metrics) RecordToolInvocation(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(kind, status).Inc()
	m.ToolDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordRoleResolution counts how a caller role was settled
func (m *Metrics) RecordRoleResolution(source string) {
	if m == nil {
		return
	}
	m.RoleResolutions.WithLabelValues(source).Inc()
}

// RecordPipelineRun counts a pipeline run by outcome
func (m *Metrics) RecordPipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// RecordPipelineRetry counts a retried pipeline stage attempt
func (m *Metrics) RecordPipelineRetry(stage string) {
	if m == nil {
		return
	}
	m.PipelineRetries.WithLabelValues(stage).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
