package notify

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// WithCorrelationID returns a child context carrying the correlation id.
// The dispatcher derives such a context for the duration of one dispatch
// call; the caller's context is never mutated, so the ambient id is
// naturally restored when dispatch returns.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the correlation id from ctx, or "" when absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// IDFactory produces opaque unique correlation tokens.
type IDFactory func() string

// NewCorrelationID is the default IDFactory.
func NewCorrelationID() string { return uuid.NewString() }
