package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "LOG_FORMAT", "LLM_DEBUG", "QUIET_MODELS", "LLM_LOG_ENTRIES",
		"MODELS_FILE", "TOOLS_OVERRIDE_FILE", "DEFAULT_TEMPERATURE", "DEFAULT_MAX_TOKENS",
		"CORS_ALLOWED_ORIGINS", "CIRCUIT_FAILURE_THRESHOLD", "CIRCUIT_BACKOFF",
		"OPENAI_BASE_URL", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TOOLS_OVERRIDE_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "models.yaml", cfg.ModelsFile)
	assert.Equal(t, 0.7, cfg.DefaultTemperature)
	assert.Nil(t, cfg.DefaultMaxTokens)
	assert.False(t, cfg.LLMDebug)
	assert.Equal(t, 100, cfg.LLMLogEntries)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.ToolDescriptions)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9001")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LLM_DEBUG", "on")
	t.Setenv("QUIET_MODELS", "tiny, ,small")
	t.Setenv("DEFAULT_TEMPERATURE", "0.2")
	t.Setenv("DEFAULT_MAX_TOKENS", "2048")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://app.example.com")
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "5")
	t.Setenv("CIRCUIT_BACKOFF", "10s")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9001", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.LLMDebug)
	assert.Equal(t, []string{"tiny", "small"}, cfg.QuietModels)
	assert.True(t, cfg.IsQuietModel("small"))
	assert.False(t, cfg.IsQuietModel("big"))
	assert.Equal(t, 0.2, cfg.DefaultTemperature)
	require.NotNil(t, cfg.DefaultMaxTokens)
	assert.Equal(t, 2048, *cfg.DefaultMaxTokens)
	assert.Equal(t, []string{"http://localhost:5173", "https://app.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.CircuitBreaker.BackoffDuration)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"DEFAULT_TEMPERATURE", "warm"},
		{"DEFAULT_MAX_TOKENS", "-1"},
		{"LLM_LOG_ENTRIES", "zero"},
		{"CIRCUIT_FAILURE_THRESHOLD", "0"},
		{"CIRCUIT_BACKOFF", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfigFromEnv()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestLoadToolDescriptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools_override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("toolDescriptions:\n  list_images: Lists every image in the project\n"), 0o644))

	descriptions, err := LoadToolDescriptions(path)
	require.NoError(t, err)
	assert.Equal(t, "Lists every image in the project", descriptions["list_images"])

	assert.Equal(t, "Lists every image in the project", GetToolDescription(descriptions, "list_images", "orig"))
	assert.Equal(t, "orig", GetToolDescription(descriptions, "get_chapter", "orig"))

	missing, err := LoadToolDescriptions(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	descriptions, err = LoadToolDescriptions(empty)
	require.NoError(t, err)
	assert.Empty(t, descriptions)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("toolDescriptions: [unclosed"), 0o644))
	_, err = LoadToolDescriptions(broken)
	assert.Error(t, err)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "sk-a...wxyz", maskAPIKey("sk-abcdefghijklmnopqrstuvwxyz"))
}
