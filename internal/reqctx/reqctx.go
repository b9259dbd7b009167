// Package reqctx carries per-request identity (correlation id and acting
// terminal) from the HTTP edge down to service logs.
package reqctx

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	correlationIDKey key = iota
	actorKey
)

// WithCorrelationID returns a copy of ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// WithActor returns a copy of ctx carrying the actor named by the request
// headers.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// Actor returns the actor stored by WithActor, or "".
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

// Fields returns the zap fields identifying the request behind ctx. It is
// empty outside an HTTP request (background jobs, tests).
func Fields(ctx context.Context) []zap.Field {
	id := CorrelationID(ctx)
	if id == "" {
		return nil
	}
	return []zap.Field{zap.String("correlation_id", id)}
}
