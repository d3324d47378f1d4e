package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultTimeoutSeconds = 60

var (
	// ErrNoModels is returned when models.yaml lists no models
	ErrNoModels = errors.New("no models configured: add models[] to the models file")
	// ErrMissingModel is returned when the resolved model lacks a base URL or model id
	ErrMissingModel = errors.New("missing base_url or model in configuration")
)

// ModelType selects which configured model a request defaults to
type ModelType string

const (
	ModelTypeChat    ModelType = "CHAT"
	ModelTypeWriting ModelType = "WRITING"
	ModelTypeEditing ModelType = "EDITING"
)

// ModelEntry is one upstream model in models.yaml
type ModelEntry struct {
	Name                    string `yaml:"name" json:"name"`
	BaseURL                 string `yaml:"base_url" json:"base_url"`
	APIKey                  string `yaml:"api_key" json:"-"`
	Model                   string `yaml:"model" json:"model"`
	TimeoutS                int    `yaml:"timeout_s" json:"timeout_s"`
	SupportsFunctionCalling *bool  `yaml:"supports_function_calling" json:"supports_function_calling,omitempty"`
}

// ModelsConfig is the content of models.yaml
type ModelsConfig struct {
	Models          []ModelEntry `yaml:"models" json:"models"`
	Selected        string       `yaml:"selected" json:"selected"`
	SelectedChat    string       `yaml:"selected_chat" json:"selected_chat"`
	SelectedWriting string       `yaml:"selected_writing" json:"selected_writing"`
	SelectedEditing string       `yaml:"selected_editing" json:"selected_editing"`
}

// ModelOverrides are per-request values that complement the configured model
type ModelOverrides struct {
	ModelName string
	BaseURL   string
	APIKey    string
	Model     string
	TimeoutS  int
}

// ResolvedModel is everything needed to call one upstream model
type ResolvedModel struct {
	Name                    string
	BaseURL                 string
	APIKey                  string
	Model                   string
	TimeoutS                int
	SupportsFunctionCalling bool
}

// Timeout returns the header timeout of the model
func (r ResolvedModel) Timeout() time.Duration {
	return time.Duration(r.TimeoutS) * time.Second
}

// LoadModels reads models.yaml. A missing file yields an empty configuration.
func LoadModels(path string) (*ModelsConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("📝 %s not found, no upstream models configured", path)
			return &ModelsConfig{}, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var cfg ModelsConfig
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	log.Printf("🔧 Loaded %d models from %s (selected: %q)", len(cfg.Models), path, cfg.Selected)
	return &cfg, nil
}

// SelectedName picks the model name for a request: explicit name, then the
// selection for the model type, then the global selection
func (m *ModelsConfig) SelectedName(modelName string, modelType ModelType) string {
	if modelName != "" {
		return modelName
	}

	var byType string
	switch ModelType(strings.ToUpper(string(modelType))) {
	case ModelTypeWriting:
		byType = m.SelectedWriting
	case ModelTypeChat:
		byType = m.SelectedChat
	case ModelTypeEditing:
		byType = m.SelectedEditing
	}
	if byType != "" {
		return byType
	}
	return m.Selected
}

// Resolve determines base URL, key, model id and timeout for one request.
// OPENAI_BASE_URL and OPENAI_API_KEY take precedence over everything else.
func (m *ModelsConfig) Resolve(overrides ModelOverrides, modelType ModelType) (ResolvedModel, error) {
	if m == nil || len(m.Models) == 0 {
		return ResolvedModel{}, ErrNoModels
	}

	name := m.SelectedName(overrides.ModelName, modelType)
	chosen := m.Models[0]
	for _, entry := range m.Models {
		if name != "" && entry.Name == name {
			chosen = entry
			break
		}
	}

	resolved := ResolvedModel{
		Name:                    chosen.Name,
		BaseURL:                 firstNonEmpty(chosen.BaseURL, overrides.BaseURL),
		APIKey:                  firstNonEmpty(chosen.APIKey, overrides.APIKey),
		Model:                   firstNonEmpty(chosen.Model, overrides.Model),
		TimeoutS:                chosen.TimeoutS,
		SupportsFunctionCalling: chosen.SupportsFunctionCalling == nil || *chosen.SupportsFunctionCalling,
	}
	if resolved.TimeoutS <= 0 {
		resolved.TimeoutS = overrides.TimeoutS
	}
	if resolved.TimeoutS <= 0 {
		resolved.TimeoutS = defaultTimeoutSeconds
	}

	if envBase := os.Getenv("OPENAI_BASE_URL"); envBase != "" {
		resolved.BaseURL = envBase
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		resolved.APIKey = envKey
	}

	if resolved.BaseURL == "" || resolved.Model == "" {
		return ResolvedModel{}, fmt.Errorf("model %q: %w", chosen.Name, ErrMissingModel)
	}
	return resolved, nil
}

// String renders the resolved model with its key masked
func (r ResolvedModel) String() string {
	key := "none"
	if r.APIKey != "" {
		key = maskAPIKey(r.APIKey)
	}
	return fmt.Sprintf("%s (model=%s, base_url=%s, key=%s, timeout=%ds)", r.Name, r.Model, r.BaseURL, key, r.TimeoutS)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
