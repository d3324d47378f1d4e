package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"quill-llm/circuitbreaker"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the service configuration, read from the environment and .env
type Config struct {
	Port string `json:"port"`

	// Logging
	LogLevel      string   `json:"log_level"`
	LogFormat     string   `json:"log_format"`
	LLMDebug      bool     `json:"llm_debug"`       // Log full upstream request and response bodies
	QuietModels   []string `json:"quiet_models"`    // Models whose per-request logs are suppressed
	LLMLogEntries int      `json:"llm_log_entries"` // Capacity of the exchange log ring

	// Files
	ModelsFile        string `json:"models_file"`
	ToolsOverrideFile string `json:"tools_override_file"`

	// Request defaults
	DefaultTemperature float64 `json:"default_temperature"`
	DefaultMaxTokens   *int    `json:"default_max_tokens,omitempty"`

	CORSAllowedOrigins []string `json:"cors_allowed_origins"`

	// Tool description overrides (loaded from tools_override.yaml)
	ToolDescriptions map[string]string `json:"tool_descriptions"`

	CircuitBreaker circuitbreaker.Config `json:"circuit_breaker"`
}

// GetDefaultConfig returns a default configuration for testing
func GetDefaultConfig() *Config {
	return &Config{
		Port:               "8000",
		LogLevel:           "INFO",
		LogFormat:          "text",
		LLMLogEntries:      100,
		ModelsFile:         "models.yaml",
		ToolsOverrideFile:  "tools_override.yaml",
		DefaultTemperature: 0.7,
		CORSAllowedOrigins: []string{"*"},
		ToolDescriptions:   make(map[string]string),
		CircuitBreaker:     circuitbreaker.DefaultConfig(),
	}
}

// LoadConfigWithEnv loads .env (optional) and then reads the process environment
func LoadConfigWithEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromEnv builds the configuration from the current process environment
func LoadConfigFromEnv() (*Config, error) {
	cfg := GetDefaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToUpper(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}
	cfg.LLMDebug = isTruthy(os.Getenv("LLM_DEBUG"))
	if cfg.LLMDebug {
		log.Printf("🔍 Configured LLM_DEBUG: full upstream bodies will be logged")
	}
	cfg.QuietModels = splitList(os.Getenv("QUIET_MODELS"))

	if n := os.Getenv("LLM_LOG_ENTRIES"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("LLM_LOG_ENTRIES must be a positive integer, got %q", n)
		}
		cfg.LLMLogEntries = v
	}

	if path := os.Getenv("MODELS_FILE"); path != "" {
		cfg.ModelsFile = path
	}
	if path := os.Getenv("TOOLS_OVERRIDE_FILE"); path != "" {
		cfg.ToolsOverrideFile = path
	}

	if t := os.Getenv("DEFAULT_TEMPERATURE"); t != "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("DEFAULT_TEMPERATURE must be a number, got %q", t)
		}
		cfg.DefaultTemperature = v
	}
	if n := os.Getenv("DEFAULT_MAX_TOKENS"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("DEFAULT_MAX_TOKENS must be a positive integer, got %q", n)
		}
		cfg.DefaultMaxTokens = &v
	}

	if origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.CORSAllowedOrigins = origins
		log.Printf("🔧 Configured CORS_ALLOWED_ORIGINS: %v", origins)
	}

	if n := os.Getenv("CIRCUIT_FAILURE_THRESHOLD"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("CIRCUIT_FAILURE_THRESHOLD must be a positive integer, got %q", n)
		}
		cfg.CircuitBreaker.FailureThreshold = v
	}
	if d := os.Getenv("CIRCUIT_BACKOFF"); d != "" {
		v, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("CIRCUIT_BACKOFF must be a duration: %w", err)
		}
		cfg.CircuitBreaker.BackoffDuration = v
	}

	toolDescriptions, err := LoadToolDescriptions(cfg.ToolsOverrideFile)
	if err != nil {
		log.Printf("⚠️  Warning: Failed to load tool descriptions from %s: %v", cfg.ToolsOverrideFile, err)
	} else {
		cfg.ToolDescriptions = toolDescriptions
	}

	return cfg, nil
}

// GetToolDescription returns the override description if available, otherwise returns original
func (c *Config) GetToolDescription(toolName, originalDescription string) string {
	return GetToolDescription(c.ToolDescriptions, toolName, originalDescription)
}

// IsQuietModel reports whether per-request logging is suppressed for model
func (c *Config) IsQuietModel(model string) bool {
	for _, m := range c.QuietModels {
		if m == model {
			return true
		}
	}
	return false
}

// maskAPIKey masks an API key for safe logging
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// splitList parses a comma-separated list, dropping empty items
func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ToolDescriptionsYAML represents the structure of tools_override.yaml
type ToolDescriptionsYAML struct {
	ToolDescriptions map[string]string `yaml:"toolDescriptions"`
}

// LoadToolDescriptions loads tool description overrides from path.
// Returns empty map if file doesn't exist (no error)
func LoadToolDescriptions(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("📝 %s not found, using original tool descriptions", path)
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var yamlData ToolDescriptionsYAML
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&yamlData); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if yamlData.ToolDescriptions == nil {
		yamlData.ToolDescriptions = make(map[string]string)
	}

	log.Printf("📝 Loaded %d tool description overrides from %s", len(yamlData.ToolDescriptions), path)
	for toolName := range yamlData.ToolDescriptions {
		log.Printf("   - %s: custom description loaded", toolName)
	}

	return yamlData.ToolDescriptions, nil
}

// GetToolDescription returns the override description if available, otherwise returns original
func GetToolDescription(overrides map[string]string, toolName, originalDescription string) string {
	if override, exists := overrides[toolName]; exists {
		return override
	}
	return originalDescription
}
