package utils

import "context"

type contextKey string

const (
	ContextKeyCorrelationId contextKey = "correlation_id"
	ContextKeyActor         contextKey = "actor"
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyCorrelationId).(string)
	return v, ok
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

// Actor is the human identity behind admin actions (history validation).
func GetActorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyActor).(string)
	return v, ok
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}
