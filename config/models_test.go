package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func testModels() *ModelsConfig {
	return &ModelsConfig{
		Models: []ModelEntry{
			{Name: "local", BaseURL: "http://localhost:1234/v1", Model: "qwen", TimeoutS: 30},
			{Name: "writer", BaseURL: "https://api.example.com/v1/", APIKey: "sk-writer-key-123456", Model: "gpt-writer", SupportsFunctionCalling: boolPtr(false)},
			{Name: "bare"},
		},
		Selected:        "local",
		SelectedWriting: "writer",
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name      string
		overrides ModelOverrides
		modelType ModelType
		want      ResolvedModel
	}{
		{
			name:      "global selection",
			modelType: ModelTypeChat,
			want:      ResolvedModel{Name: "local", BaseURL: "http://localhost:1234/v1", Model: "qwen", TimeoutS: 30, SupportsFunctionCalling: true},
		},
		{
			name:      "selection by model type",
			modelType: ModelTypeWriting,
			want:      ResolvedModel{Name: "writer", BaseURL: "https://api.example.com/v1/", APIKey: "sk-writer-key-123456", Model: "gpt-writer", TimeoutS: 60},
		},
		{
			name:      "model type is case insensitive",
			modelType: "writing",
			want:      ResolvedModel{Name: "writer", BaseURL: "https://api.example.com/v1/", APIKey: "sk-writer-key-123456", Model: "gpt-writer", TimeoutS: 60},
		},
		{
			name:      "explicit name wins over type",
			overrides: ModelOverrides{ModelName: "local"},
			modelType: ModelTypeWriting,
			want:      ResolvedModel{Name: "local", BaseURL: "http://localhost:1234/v1", Model: "qwen", TimeoutS: 30, SupportsFunctionCalling: true},
		},
		{
			name:      "unknown name falls back to first model",
			overrides: ModelOverrides{ModelName: "ghost"},
			want:      ResolvedModel{Name: "local", BaseURL: "http://localhost:1234/v1", Model: "qwen", TimeoutS: 30, SupportsFunctionCalling: true},
		},
		{
			name:      "overrides fill fields the entry leaves empty",
			overrides: ModelOverrides{ModelName: "bare", BaseURL: "http://proxy/v1", APIKey: "k", Model: "m", TimeoutS: 15},
			want:      ResolvedModel{Name: "bare", BaseURL: "http://proxy/v1", APIKey: "k", Model: "m", TimeoutS: 15, SupportsFunctionCalling: true},
		},
		{
			name:      "entry values win over overrides",
			overrides: ModelOverrides{ModelName: "local", BaseURL: "http://other", Model: "other", TimeoutS: 5},
			want:      ResolvedModel{Name: "local", BaseURL: "http://localhost:1234/v1", Model: "qwen", TimeoutS: 30, SupportsFunctionCalling: true},
		},
	}

	models := testModels()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.Resolve(tt.overrides, tt.modelType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEnvironmentWins(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "http://env-host/v1")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	got, err := testModels().Resolve(ModelOverrides{ModelName: "writer", BaseURL: "http://payload"}, "")
	require.NoError(t, err)
	assert.Equal(t, "http://env-host/v1", got.BaseURL)
	assert.Equal(t, "sk-env", got.APIKey)
	assert.Equal(t, "gpt-writer", got.Model)
}

func TestResolveErrors(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := (&ModelsConfig{}).Resolve(ModelOverrides{}, ModelTypeChat)
	assert.ErrorIs(t, err, ErrNoModels)

	var nilModels *ModelsConfig
	_, err = nilModels.Resolve(ModelOverrides{}, ModelTypeChat)
	assert.ErrorIs(t, err, ErrNoModels)

	_, err = testModels().Resolve(ModelOverrides{ModelName: "bare"}, ModelTypeChat)
	assert.True(t, errors.Is(err, ErrMissingModel))
}

func TestResolvedModel(t *testing.T) {
	r := ResolvedModel{Name: "writer", Model: "gpt", BaseURL: "http://x", APIKey: "sk-abcdefghijkl", TimeoutS: 45}
	assert.Equal(t, 45*time.Second, r.Timeout())
	assert.Contains(t, r.String(), "key=sk-a...ijkl")
	assert.NotContains(t, r.String(), "sk-abcdefghijkl")
}

func TestLoadModels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `
models:
  - name: local
    base_url: http://localhost:1234/v1
    model: qwen
    timeout_s: 120
    supports_function_calling: false
selected: local
selected_chat: local
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadModels(path)
	require.NoError(t, err)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "local", cfg.Selected)
	assert.Equal(t, "local", cfg.SelectedChat)
	assert.Equal(t, 120, cfg.Models[0].TimeoutS)
	require.NotNil(t, cfg.Models[0].SupportsFunctionCalling)
	assert.False(t, *cfg.Models[0].SupportsFunctionCalling)

	missing, err := LoadModels(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing.Models)
}
