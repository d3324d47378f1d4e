package logger

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"quill-llm/internal"

	"github.com/sirupsen/logrus"
)

// Level represents the severity level of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns the emoji prefix for a log level
func (l Level) Emoji() string {
	switch l {
	case DEBUG:
		return "🔍"
	case INFO:
		return "ℹ️"
	case WARN:
		return "⚠️"
	case ERROR:
		return "❌"
	default:
		return "📝"
	}
}

// ParseLevel parses a string level to Level enum, defaulting to INFO
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	WithField(key, value string) Logger
	WithModel(model string) Logger
	WithComponent(component string) Logger
}

// LoggerConfig holds configuration for the logger
type LoggerConfig interface {
	ShouldLogForModel(model string) bool
	GetMinLogLevel() Level
	ShouldMaskAPIKeys() bool
}

// ContextLogger implements Logger on top of a logrus entry. The request id,
// component, model and extra fields travel as logrus fields.
type ContextLogger struct {
	config    LoggerConfig
	entry     *logrus.Entry
	requestID string
	component string
	model     string
}

// contextKey is used for storing logger in context
type contextKey string

const (
	loggerContextKey contextKey = "logger"
)

// New creates a logger bound to ctx. Entries go to the logrus logger configured by Setup.
func New(ctx context.Context, config LoggerConfig) Logger {
	if config == nil {
		config = StaticConfig{MinLevel: INFO, MaskAPIKeys: true}
	}
	l := &ContextLogger{
		config: config,
		entry:  logrus.NewEntry(logrus.StandardLogger()),
	}
	if internal.HasRequestID(ctx) {
		l.requestID = internal.GetRequestID(ctx)
		l.entry = l.entry.WithField("request_id", l.requestID)
	}
	return l
}

// FromContext returns a logger from context, or creates a new one if none exists
func FromContext(ctx context.Context, config LoggerConfig) Logger {
	if logger, ok := ctx.Value(loggerContextKey).(Logger); ok {
		return logger
	}
	return New(ctx, config)
}

// WithContext stores the logger in context for later retrieval
func (l *ContextLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}

// WithField adds a field to the logger context
func (l *ContextLogger) WithField(key, value string) Logger {
	c := *l
	c.entry = l.entry.WithField(key, value)
	return &c
}

// WithModel sets the model used for quiet-model filtering
func (l *ContextLogger) WithModel(model string) Logger {
	c := *l
	c.model = model
	c.entry = l.entry.WithField("model", model)
	return &c
}

// WithComponent sets the component for the logger
func (l *ContextLogger) WithComponent(component string) Logger {
	c := *l
	c.component = component
	c.entry = l.entry.WithField("component", component)
	return &c
}

// shouldLog applies the level floor, then quiet-model filtering below WARN
func (l *ContextLogger) shouldLog(level Level) bool {
	if level < l.config.GetMinLogLevel() {
		return false
	}
	return level >= WARN || l.model == "" || l.config.ShouldLogForModel(l.model)
}

// formatMessage creates the log line: emoji, optional request id and component, message
func (l *ContextLogger) formatMessage(level Level, format string, args ...interface{}) string {
	var b strings.Builder
	b.WriteString(level.Emoji())
	if l.requestID != "" {
		fmt.Fprintf(&b, " [%s]", l.requestID)
	}
	if l.component != "" {
		fmt.Fprintf(&b, " [%s]", l.component)
	}

	message := fmt.Sprintf(format, args...)
	if l.config.ShouldMaskAPIKeys() {
		message = MaskSecrets(message)
	}
	b.WriteByte(' ')
	b.WriteString(message)
	return b.String()
}

func (l *ContextLogger) log(level Level, format string, args []interface{}) {
	if l.shouldLog(level) {
		l.entry.Log(toLogrusLevel(level), l.formatMessage(level, format, args...))
	}
}

var (
	bearerPattern = regexp.MustCompile(`(?i)(Bearer\s+)[^\s"',]+`)
	skKeyPattern  = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{4,}`)
)

// MaskSecrets masks bearer tokens and sk- style API keys in a log message
func MaskSecrets(message string) string {
	if !strings.Contains(message, "sk-") && !strings.Contains(strings.ToLower(message), "bearer") {
		return message
	}
	message = bearerPattern.ReplaceAllString(message, "${1}***")
	return skKeyPattern.ReplaceAllString(message, "sk-***")
}

func (l *ContextLogger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args) }
func (l *ContextLogger) Info(format string, args ...interface{})  { l.log(INFO, format, args) }
func (l *ContextLogger) Warn(format string, args ...interface{})  { l.log(WARN, format, args) }
func (l *ContextLogger) Error(format string, args ...interface{}) { l.log(ERROR, format, args) }
