package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "asaas"),
		attribute.String("tenant_id", "456"),
		attribute.String("event_type", "PAYMENT_CONFIRMED"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" {
			t.Fatalf("tenant_id must not be used as a metric label")
		}
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "partnerbilling"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "asaas", "PAYMENT_CONFIRMED", "applied")
	m.RecordPlanChange(context.Background(), "waived")

	var nilMetrics *Metrics
	nilMetrics.RecordEntitlementCheck(context.Background(), "max_users", "within_limit")
}

func TestClassifyErrorReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorReasonDeadlineExceeded},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ErrorReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: ErrorReasonSerializationFailure},
		{name: "unique", err: gorm.ErrDuplicatedKey, want: ErrorReasonUniqueViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "08006"}, want: ErrorReasonDB},
		{name: "business", err: errors.New("boom"), want: ErrorReasonBusinessRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyErrorReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBillingMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newBillingMetrics(registry, Config{ServiceName: "partnerbilling", Environment: "test"})

	m.IncPhaseRun("invoice_gen", PhaseOutcomeSkipped)
	m.IncPhaseRun("invoice_gen", PhaseOutcomeSkipped)
	m.IncInvoiceGenerated(InvoiceResultIdempotent)
	m.IncDunningApplied(4)
	m.AddPartnersReactivated(3)

	if got := testutil.ToFloat64(m.phaseRuns.WithLabelValues("invoice_gen", PhaseOutcomeSkipped)); got != 2 {
		t.Fatalf("expected 2 skipped runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.invoicesGenerated.WithLabelValues(InvoiceResultIdempotent)); got != 1 {
		t.Fatalf("expected 1 idempotent invoice, got %v", got)
	}
	if got := testutil.ToFloat64(m.dunningApplied.WithLabelValues("4")); got != 1 {
		t.Fatalf("expected 1 level-4 application, got %v", got)
	}
	if got := testutil.ToFloat64(m.partnersReactivated); got != 3 {
		t.Fatalf("expected 3 reactivations, got %v", got)
	}
}
