package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill-llm/circuitbreaker"
	"quill-llm/config"
	"quill-llm/logger"
	"quill-llm/metrics"
	"quill-llm/proxy"
	"quill-llm/types"
)

func newTestRouter(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.LogLevel = "ERROR"
	cfg.CORSAllowedOrigins = []string{"http://editor.local"}

	models := &config.ModelsConfig{
		Models:   []config.ModelEntry{{Name: "local", BaseURL: upstreamURL, Model: "qwen", TimeoutS: 5}},
		Selected: "local",
	}
	m := metrics.New()
	llmLog := logger.NewLLMLog(10)
	health := circuitbreaker.NewHealthManager(cfg.CircuitBreaker)
	client := proxy.NewClient(proxy.ClientOptions{
		Health:       health,
		Metrics:      m,
		LLMLog:       llmLog,
		LoggerConfig: logger.NewConfigAdapter(cfg),
	})
	return newRouter(cfg, proxy.NewHandler(cfg, models, client, llmLog, health), m)
}

func TestRouterRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
	assert.Contains(t, rec.Body.String(), "quill-llm")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	body := `{"messages":[{"role":"user","content":"hello"}]}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data: {"content":"hi"}`)
	assert.Contains(t, rec.Body.String(), `data: {"done":true}`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quill_llm_upstream_requests_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/debug/llm_logs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/stream", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, "http://llm.local/v1")

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/stream", nil)
	req.Header.Set("Origin", "http://editor.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://editor.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodOptions, "/api/chat/stream", nil)
	req.Header.Set("Origin", "http://evil.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPrintEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"plan\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Answer [TOOL_CALL]list_images()[/TOOL_CALL]\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	client := proxy.NewClient(proxy.ClientOptions{LoggerConfig: logger.StaticConfig{MinLevel: logger.ERROR}})
	var out bytes.Buffer
	chatCmd.SetOut(&out)
	chatCmd.SetContext(context.Background())
	err := printEvents(chatCmd, client, proxy.ChatRequest{
		BaseURL:  upstream.URL,
		Model:    "qwen",
		Messages: []types.OpenAIMessage{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, ansiDim+"plan"+ansiReset)
	assert.Contains(t, got, "Answer ")
	assert.Contains(t, got, `"name":"list_images"`)
}

func TestPrintEventsReturnsStreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer upstream.Close()

	client := proxy.NewClient(proxy.ClientOptions{LoggerConfig: logger.StaticConfig{MinLevel: logger.ERROR}})
	chatCmd.SetOut(&bytes.Buffer{})
	chatCmd.SetContext(context.Background())
	err := printEvents(chatCmd, client, proxy.ChatRequest{
		BaseURL:  upstream.URL,
		Model:    "qwen",
		Messages: []types.OpenAIMessage{{Role: "user", Content: "hi"}},
		Stream:   true,
	})

	var se *types.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.ErrorKindUpstream, se.Kind)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
}
