// ABOUTME: Request context key types and constants for the api package.
// ABOUTME: Used by middleware to inject auth state and by handlers to read it.
package api

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxUserID contextKey = iota // uuid.UUID — authenticated user
)

// userIDFrom returns the authenticated user's id injected by
// RequireAuthenticated, or false when the request was not authenticated.
func userIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return id, ok
}
