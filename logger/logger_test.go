package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"quill-llm/config"
	"quill-llm/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureJSON routes the global logger into a buffer and returns the decoded lines
func captureJSON(t *testing.T, level Level) func() []map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	SetupOutput(&buf, level, "json")
	t.Cleanup(func() { Setup(INFO, "text") })

	return func() []map[string]interface{} {
		var lines []map[string]interface{}
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(line), &m))
			lines = append(lines, m)
		}
		return lines
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "❌", ERROR.Emoji())
}

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Authorization: Bearer abc.def-123", "Authorization: Bearer ***"},
		{"key=sk-proj-ABCDEFGH12345 used", "key=sk-*** used"},
		{`{"auth":"bearer tok"}`, `{"auth":"bearer ***"}`},
		{"nothing secret here", "nothing secret here"},
		{"sk-1 too short", "sk-1 too short"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskSecrets(tt.in))
	}
}

func TestContextLoggerWritesStructuredEntries(t *testing.T) {
	lines := captureJSON(t, DEBUG)

	ctx := internal.WithRequestID(context.Background(), "req_abc")
	lg := New(ctx, StaticConfig{MinLevel: DEBUG, MaskAPIKeys: true}).
		WithComponent(ComponentDecoder).
		WithModel("qwen").
		WithField("attempt", "1")

	lg.Info("calling with Bearer sk-secretsecret")
	lg.Debug("detail %d", 42)

	got := lines()
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "req_abc", got[0]["request_id"])
	assert.Equal(t, ComponentDecoder, got[0]["component"])
	assert.Equal(t, "qwen", got[0]["model"])
	assert.Equal(t, "1", got[0]["attempt"])
	assert.Contains(t, got[0]["message"], "[req_abc]")
	assert.Contains(t, got[0]["message"], "Bearer ***")
	assert.NotContains(t, got[0]["message"], "secretsecret")
	assert.Contains(t, got[0], "timestamp")
	assert.Contains(t, got[1]["message"], "detail 42")
}

func TestContextLoggerFiltering(t *testing.T) {
	lines := captureJSON(t, DEBUG)

	cfg := config.GetDefaultConfig()
	cfg.LogLevel = "WARN"
	cfg.QuietModels = []string{"tiny"}
	lg := NewFromConfig(context.Background(), cfg)

	lg.Info("dropped by level")
	lg.Warn("kept")
	lg.WithModel("tiny").Warn("warnings ignore quiet models")

	cfg.LogLevel = "DEBUG"
	lg.WithModel("tiny").Info("dropped for quiet model")
	lg.WithModel("big").Info("kept for other model")

	got := lines()
	require.Len(t, got, 3)
	assert.Contains(t, got[0]["message"], "kept")
	assert.Contains(t, got[1]["message"], "warnings ignore quiet models")
	assert.Contains(t, got[2]["message"], "kept for other model")
	assert.NotContains(t, got[0], "request_id")
}

func TestConfigAdapterLLMDebugLowersLevel(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.LogLevel = "ERROR"
	assert.Equal(t, ERROR, NewConfigAdapter(cfg).GetMinLogLevel())

	cfg.LLMDebug = true
	assert.Equal(t, DEBUG, NewConfigAdapter(cfg).GetMinLogLevel())
}

func TestContextRoundTrip(t *testing.T) {
	ctx, lg := ContextLoggerFromConfig(context.Background(), config.GetDefaultConfig())
	assert.Same(t, lg, FromContext(ctx, nil))
	assert.Same(t, lg, ConditionalLogger(ctx))
	assert.IsType(t, &noOpLogger{}, ConditionalLogger(context.Background()))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab ... yz", Truncate("abcdefghijklmnopqrstuvwxyz", 9))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
}
