package logger

import (
	"context"
	"strings"
)

// Common emoji constants for different log types
const (
	EmojiReceived = "📨"
	EmojiTool     = "🔧"
	EmojiTarget   = "🎯"
	EmojiStream   = "🌊"
	EmojiSuccess  = "✅"
	EmojiLaunch   = "🚀"
	EmojiRetry    = "🔄"
	EmojiSkip     = "🚫"
	EmojiAlert    = "🚨"
	EmojiStats    = "📊"
	EmojiOutbound = "📤"
	EmojiInbound  = "📥"
)

// Specialized logging functions for common streaming operations

// LogRequest logs an incoming chat request with model and tool count
func LogRequest(ctx context.Context, logger Logger, model string, messageCount, toolCount int) {
	logger.WithModel(model).Info("%s Received chat request for model: %s, messages: %d, tools: %d",
		EmojiReceived, model, messageCount, toolCount)
}

// LogModelRouting logs which upstream a model resolved to
func LogModelRouting(ctx context.Context, logger Logger, model, endpoint string) {
	logger.Info("%s Model %s → Endpoint: %s", EmojiTarget, model, endpoint)
}

// LogProxyRequest logs outgoing upstream requests
func LogProxyRequest(ctx context.Context, logger Logger, endpoint string, attempt int, streaming, toolsSent bool) {
	logger.Info("%s Calling upstream: %s (attempt: %d, streaming: %v, native tools: %v)",
		EmojiLaunch, endpoint, attempt, streaming, toolsSent)
}

// LogStreamingResponse logs when processing streaming responses
func LogStreamingResponse(ctx context.Context, logger Logger) {
	logger.Info("%s Processing streaming response...", EmojiStream)
}

// LogNonStreamingResponse logs when receiving non-streaming responses
func LogNonStreamingResponse(ctx context.Context, logger Logger, choiceCount int) {
	logger.Info("%s Received non-streaming response with %d choices", EmojiSuccess, choiceCount)
}

// LogFallbackRetry logs the switch to in-band tool calling
func LogFallbackRetry(ctx context.Context, logger Logger, reason string) {
	logger.Warn("%s Upstream rejected native tools, retrying with in-band instructions: %s",
		EmojiRetry, Truncate(reason, 200))
}

// LogToolUsed logs when a tool call is emitted to the caller
func LogToolUsed(ctx context.Context, logger Logger, toolName, toolID, source string) {
	logger.Info("%s Tool call emitted: %s(id=%s, source=%s)", EmojiTarget, toolName, toolID, source)
}

// LogStreamSummary logs a summary of one finished response
func LogStreamSummary(ctx context.Context, logger Logger, contentChars, thinkingChars, toolCalls int, outcome string) {
	logger.Info("%s Response summary: content=%d chars, thinking=%d chars, tool_calls=%d, outcome=%s",
		EmojiStats, contentChars, thinkingChars, toolCalls, outcome)
}

// LogToolNames logs the names of tools being offered
func LogToolNames(ctx context.Context, logger Logger, toolNames []string) {
	if len(toolNames) <= 5 {
		logger.Debug("     Tools: [%s]", strings.Join(toolNames, ", "))
	} else {
		logger.Debug("     Tools: [%s, %s, ... and %d more]",
			toolNames[0], toolNames[1], len(toolNames)-2)
	}
}

// Truncate shortens s to at most limit bytes, keeping its beginning and end
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}

	if limit < 5 {
		return s[:limit]
	}

	halfLength := (limit - 5) / 2 // Reserve 5 chars for " ... "
	if halfLength < 1 {
		halfLength = 1
	}
	return s[:halfLength] + " ... " + s[len(s)-halfLength:]
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &noOpLogger{}
}

// ConditionalLogger returns the logger stored in ctx, or a no-op logger
func ConditionalLogger(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerContextKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// noOpLogger is a no-operation logger
type noOpLogger struct{}

func (n *noOpLogger) Debug(format string, args ...interface{}) {}
func (n *noOpLogger) Info(format string, args ...interface{})  {}
func (n *noOpLogger) Warn(format string, args ...interface{})  {}
func (n *noOpLogger) Error(format string, args ...interface{}) {}
func (n *noOpLogger) WithField(key, value string) Logger       { return n }
func (n *noOpLogger) WithModel(model string) Logger            { return n }
func (n *noOpLogger) WithComponent(component string) Logger    { return n }
