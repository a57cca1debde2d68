// ABOUTME: Request context helpers for the authenticated chat session
// ABOUTME: Provides WithSessionID/SessionIDFromContext for propagating the session through handlers

package auth

import (
	"context"
)

// sessionContextKey is the key type for storing the session ID in context.Context.
type sessionContextKey struct{}

// WithSessionID returns a new context carrying sessionID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionIDFromContext returns the session ID stored by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionContextKey{}).(string)
	return id, ok && id != ""
}
