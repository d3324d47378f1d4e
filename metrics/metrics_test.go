package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveUpstream(0, 400)
	m.ObserveUpstream(1, 200)
	m.ObserveUpstream(1, 0)
	m.FallbackRetry()
	m.ToolCalls(SourceInBand, 2)
	m.ToolCalls(SourceRescan, 0)
	m.StreamError("upstream_error")
	m.ObserveStream("done", 1500*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("0", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("1", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackRetries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCalls.WithLabelValues(SourceInBand)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamErrors.WithLabelValues("upstream_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.streamLatencyMs))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpstream(0, 200)
		m.FallbackRetry()
		m.ToolCalls(SourceNative, 1)
		m.StreamError("decode_error")
		m.ObserveStream("error", time.Second)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerServesPrivateRegistry(t *testing.T) {
	m := New()
	m.FallbackRetry()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quill_llm_fallback_retries_total 1")
	assert.NotContains(t, rec.Body.String(), "go_goroutines")
}
