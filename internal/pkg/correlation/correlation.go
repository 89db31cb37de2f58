// Package correlation carries a per-request correlation id through contexts so
// that log lines and published events originating from the same request can be
// joined downstream.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithID returns a context carrying the given correlation id.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id stored in ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns a context that carries a correlation id, generating a new one
// when the incoming context has none, along with the id in effect.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithID(ctx, id), id
}
