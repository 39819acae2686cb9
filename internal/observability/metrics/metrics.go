package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents     metric.Int64Counter
	webhookRateLimits metric.Int64Counter
	planChanges       metric.Int64Counter
	entitlementChecks metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "partnerbilling"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("partnerbilling_webhook_events_total")
	if err != nil {
		return nil, err
	}
	webhookRateLimits, err := meter.Int64Counter("partnerbilling_webhook_rate_limited_total")
	if err != nil {
		return nil, err
	}
	planChanges, err := meter.Int64Counter("partnerbilling_plan_changes_total")
	if err != nil {
		return nil, err
	}
	entitlementChecks, err := meter.Int64Counter("partnerbilling_entitlement_checks_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:     webhookEvents,
		webhookRateLimits: webhookRateLimits,
		planChanges:       planChanges,
		entitlementChecks: entitlementChecks,
	}, nil
}

// RecordWebhookEvent increments webhook ingest counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookRateLimited increments webhook rate limit denials.
func (m *Metrics) RecordWebhookRateLimited(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.webhookRateLimits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPlanChange increments plan change counts by proration status.
func (m *Metrics) RecordPlanChange(ctx context.Context, prorationStatus string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(prorationStatus)))
	m.planChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEntitlementCheck increments entitlement checks by key and reason.
func (m *Metrics) RecordEntitlementCheck(ctx context.Context, key, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("entitlement_key", strings.TrimSpace(key)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.entitlementChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":        {},
	"event_type":      {},
	"status":          {},
	"entitlement_key": {},
	"reason":          {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
