// Package trace carries a per-turn correlation ID through the context so every
// log line emitted while handling one conversation turn can be grouped.
package trace

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewID returns a fresh turn ID ("t_" followed by a random UUID without
// dashes).
func NewID() string {
	id := uuid.New()
	return "t_" + hex.EncodeToString(id[:])
}

// WithID returns a child context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise a
// child context with a new one.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithID(ctx, NewID())
}

// FromContext extracts the ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
