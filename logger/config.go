package logger

import (
	"context"

	"quill-llm/config"
)

// ConfigAdapter adapts config.Config to implement LoggerConfig
type ConfigAdapter struct {
	config *config.Config
}

// NewConfigAdapter creates a new ConfigAdapter
func NewConfigAdapter(cfg *config.Config) LoggerConfig {
	return &ConfigAdapter{config: cfg}
}

// ShouldLogForModel is false for models listed in QUIET_MODELS
func (c *ConfigAdapter) ShouldLogForModel(model string) bool {
	return !c.config.IsQuietModel(model)
}

// GetMinLogLevel returns LOG_LEVEL, lowered to DEBUG when LLM_DEBUG is on
func (c *ConfigAdapter) GetMinLogLevel() Level {
	if c.config.LLMDebug {
		return DEBUG
	}
	return ParseLevel(c.config.LogLevel)
}

// ShouldMaskAPIKeys returns whether API keys should be masked in logs
func (c *ConfigAdapter) ShouldMaskAPIKeys() bool {
	return true
}

// StaticConfig is a fixed LoggerConfig for tools and tests
type StaticConfig struct {
	MinLevel    Level
	MaskAPIKeys bool
}

func (s StaticConfig) ShouldLogForModel(model string) bool { return true }
func (s StaticConfig) GetMinLogLevel() Level               { return s.MinLevel }
func (s StaticConfig) ShouldMaskAPIKeys() bool             { return s.MaskAPIKeys }

// NewFromConfig creates a new logger using the service config
func NewFromConfig(ctx context.Context, cfg *config.Config) Logger {
	return New(ctx, NewConfigAdapter(cfg))
}

// ContextLoggerFromConfig creates a logger and stores it in context for easy access
func ContextLoggerFromConfig(ctx context.Context, cfg *config.Config) (context.Context, Logger) {
	logger := NewFromConfig(ctx, cfg)
	newCtx := context.WithValue(ctx, loggerContextKey, logger)
	return newCtx, logger
}
