package middleware

import (
	"context"

	"github.com/upb/context-retrieval/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ScopeKey is the context key for the caller's conversation scope
	ScopeKey contextKey = "scope"

	// UserIDHeader carries the caller's user id, set by the upstream gateway
	UserIDHeader = "X-User-ID"

	// ConversationIDParam is the route parameter naming the conversation
	ConversationIDParam = "conversationID"
)

// GetScopeFromContext retrieves the scope from context
func GetScopeFromContext(ctx context.Context) (models.Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(models.Scope)
	return scope, ok
}

// WithScope adds a scope to the context
func WithScope(ctx context.Context, scope models.Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}
