// Package reqctx provides request-scoped context utilities for the
// retrieval core.
package reqctx

import (
	"context"
)

type contextKey string

const (
	// RequestIDKey is the context key for the inbound request id. The
	// logger package looks for the string "request_id" directly; this key
	// carries the same value under a typed key for internal propagation.
	RequestIDKey contextKey = "request_id"
)

// WithRequestID adds a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	// Also set under the plain string key so logger.WithContext can find it
	// without importing this package.
	return context.WithValue(ctx, "request_id", requestID)
}

// RequestID retrieves the request id from context. Returns empty string if
// not found.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
