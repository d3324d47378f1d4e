package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Component constants for consistent labeling
const (
	ComponentServer         = "server"
	ComponentClient         = "upstream_client"
	ComponentDecoder        = "decoder"
	ComponentFallback       = "fallback"
	ComponentSequencer      = "sequencer"
	ComponentCircuitBreaker = "circuit_breaker"
	ComponentConfig         = "configuration"
	ComponentCLI            = "cli"
)

// Setup configures the process-wide logrus logger. format is "json" or "text".
func Setup(level Level, format string) {
	SetupOutput(os.Stderr, level, format)
}

// SetupOutput is Setup with an explicit destination
func SetupOutput(out io.Writer, level Level, format string) {
	std := logrus.StandardLogger()
	std.SetOutput(out)

	if format == "json" {
		std.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		std.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}

	std.SetLevel(toLogrusLevel(level))
}

func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
