package tracing

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/partnerbilling/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// dunningLevelHeader is set by the partner route guard.
const dunningLevelHeader = "X-Dunning-Level"

// Route groups used to name spans.
const (
	RouteGroupWebhook  = "webhook"
	RouteGroupPartner  = "partner"
	RouteGroupOperator = "operator"
	RouteGroupSystem   = "system"
)

// RouteGroup classifies a gin route template.
func RouteGroup(route string) string {
	switch {
	case strings.HasPrefix(route, "/webhooks/"):
		return RouteGroupWebhook
	case strings.HasPrefix(route, "/v1/partners/"):
		return RouteGroupPartner
	case strings.HasPrefix(route, "/v1/"):
		return RouteGroupOperator
	default:
		return RouteGroupSystem
	}
}

// SpanName names a request span after its route group. Webhook spans carry
// the provider so deliveries from different gateways are told apart.
func SpanName(c *gin.Context, route string) string {
	method := strings.ToUpper(c.Request.Method)
	switch RouteGroup(route) {
	case RouteGroupWebhook:
		return "webhook.receive " + c.Param("provider")
	case RouteGroupPartner:
		return "partner " + method + " " + strings.TrimPrefix(route, "/v1/partners/:partner_id")
	default:
		return "HTTP " + method + " " + route
	}
}

// GinMiddleware instruments inbound HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("partnerbilling/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		group := RouteGroup(route)
		span.SetName(SpanName(c, route))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
			attribute.String("billing.route_group", group),
		}
		switch group {
		case RouteGroupWebhook:
			attrs = append(attrs, attribute.String("payment.provider", c.Param("provider")))
		case RouteGroupPartner:
			attrs = append(attrs, attribute.String("partner_id", c.Param("partner_id")))
			if tenantID := c.Param("tenant_id"); tenantID != "" {
				attrs = append(attrs, attribute.String("tenant_id", tenantID))
			}
			if level, err := strconv.Atoi(c.Writer.Header().Get(dunningLevelHeader)); err == nil {
				attrs = append(attrs, attribute.Int("dunning.level", level))
			}
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}
