package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRouteGroup(t *testing.T) {
	assert.Equal(t, RouteGroupWebhook, RouteGroup("/webhooks/:provider"))
	assert.Equal(t, RouteGroupPartner, RouteGroup("/v1/partners/:partner_id/access-state"))
	assert.Equal(t, RouteGroupOperator, RouteGroup("/v1/billing-cycle/run"))
	assert.Equal(t, RouteGroupSystem, RouteGroup("/health"))
}

func TestGinMiddlewareNamesBillingSpans(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/webhooks/:provider", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/v1/partners/:partner_id/tenants/:tenant_id/coupons", func(c *gin.Context) {
		c.Header(dunningLevelHeader, "3")
		c.Status(http.StatusForbidden)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/asaas", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/partners/100/tenants/200/coupons", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "webhook.receive asaas", spans[0].Name())
	webhook := attrs(spans[0])
	assert.Equal(t, "asaas", webhook["payment.provider"].AsString())
	assert.Equal(t, RouteGroupWebhook, webhook["billing.route_group"].AsString())

	assert.Equal(t, "partner POST /tenants/:tenant_id/coupons", spans[1].Name())
	partner := attrs(spans[1])
	assert.Equal(t, "100", partner["partner_id"].AsString())
	assert.Equal(t, "200", partner["tenant_id"].AsString())
	assert.Equal(t, int64(3), partner["dunning.level"].AsInt64())
	assert.Equal(t, int64(http.StatusForbidden), partner["http.status_code"].AsInt64())
}

func TestSafeAttributesDropsUnknownKeys(t *testing.T) {
	out := SafeAttributes(
		attribute.String("tenant_id", "1"),
		attribute.String("card_number", "4242"),
	)
	require.Len(t, out, 1)
	assert.Equal(t, attribute.Key("tenant_id"), out[0].Key)
}
