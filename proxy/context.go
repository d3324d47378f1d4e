package proxy

import (
	"context"

	"quill-llm/internal"
)

// withRequestID adds a request ID to the context (wraps internal function)
func withRequestID(ctx context.Context, requestID string) context.Context {
	return internal.WithRequestID(ctx, requestID)
}

// GetRequestID retrieves the request ID from context (wraps internal function)
func GetRequestID(ctx context.Context) string {
	return internal.GetRequestID(ctx)
}

// ensureRequestID returns ctx with a request ID, generating one if missing
func ensureRequestID(ctx context.Context) context.Context {
	if internal.HasRequestID(ctx) {
		return ctx
	}
	return withRequestID(ctx, generateRequestID())
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	return internal.NewRequestID()
}
