// Package context carries request-scoped observability identifiers.
package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	correlationIDKey
	partnerIDKey
	tenantIDKey
	actorKey
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// EnsureCorrelationID returns ctx carrying a correlation id, generating a ULID when absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return WithCorrelationID(ctx, id), id
}

func WithPartnerID(ctx context.Context, partnerID string) context.Context {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return ctx
	}
	return context.WithValue(ctx, partnerIDKey, partnerID)
}

func PartnerIDFromContext(ctx context.Context) string {
	return stringValue(ctx, partnerIDKey)
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func TenantIDFromContext(ctx context.Context) string {
	return stringValue(ctx, tenantIDKey)
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor{kind: actorType, id: strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if a, ok := ctx.Value(actorKey).(actor); ok {
		return a.kind, a.id
	}
	return "", ""
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
