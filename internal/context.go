package internal

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// HasRequestID reports whether a request ID was attached to the context
func HasRequestID(ctx context.Context) bool {
	_, ok := ctx.Value(RequestIDKey).(string)
	return ok
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// NewRequestID creates a short unique request ID for log correlation
func NewRequestID() string {
	return "req_" + uuid.NewString()[:8]
}
