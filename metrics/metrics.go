// Package metrics exposes Prometheus collectors for the chat streaming engine.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tool call sources
const (
	SourceNative = "native"
	SourceInBand = "inband"
	SourceRescan = "rescan"
)

type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	fallbackRetries  prometheus.Counter
	toolCalls        *prometheus.CounterVec
	streamErrors     *prometheus.CounterVec
	streamLatencyMs  *prometheus.HistogramVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_llm_upstream_requests_total",
			Help: "Upstream chat-completion requests by attempt number and response status.",
		}, []string{"attempt", "status"}),
		fallbackRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_llm_fallback_retries_total",
			Help: "Requests retried without native tools after a tool-choice rejection.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_llm_tool_calls_total",
			Help: "Tool calls emitted to callers by detection source.",
		}, []string{"source"}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_llm_stream_errors_total",
			Help: "Terminal stream errors by kind.",
		}, []string{"kind"}),
		streamLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quill_llm_stream_latency_ms",
			Help:    "Wall time of one logical chat call in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		}, []string{"outcome"}),
	}
	r.MustRegister(m.upstreamRequests, m.fallbackRetries, m.toolCalls, m.streamErrors, m.streamLatencyMs)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpstream counts one upstream response. status 0 means the request never got headers.
func (m *Metrics) ObserveUpstream(attempt, status int) {
	if m == nil {
		return
	}
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	m.upstreamRequests.WithLabelValues(strconv.Itoa(attempt), s).Inc()
}

func (m *Metrics) FallbackRetry() {
	if m == nil {
		return
	}
	m.fallbackRetries.Inc()
}

func (m *Metrics) ToolCalls(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.toolCalls.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) StreamError(kind string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveStream(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.streamLatencyMs.WithLabelValues(outcome).Observe(float64(dur.Milliseconds()))
}
