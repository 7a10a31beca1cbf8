package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ClientIPKey is the context key for the resolved client IP
	ClientIPKey ContextKey = "client_ip"
	// SessionIDKey is the context key for a validated admin session ID
	SessionIDKey ContextKey = "session_id"
)

// WithClientIP stores the resolved client IP in the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// ExtractClientIP extracts the resolved client IP from the request context
func ExtractClientIP(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(ClientIPKey).(string)
	return ip, ok
}

// WithSessionID stores the validated admin session ID in the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// ExtractSessionID extracts the admin session ID from the request context
func ExtractSessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(SessionIDKey).(string)
	return id, ok
}
