package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/partnerbilling/internal/catalog/repository"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/partnerbilling/internal/invoice/repository"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/partnerbilling/internal/subscription/repository"
	"github.com/smallbiznis/partnerbilling/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	feb1 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mar1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	apr1 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

type fakeSource struct {
	kind      invoicedomain.LineType
	pending   []invoicedomain.Adjustment
	subtotals []decimal.Decimal
	committed []snowflake.ID
}

func (f *fakeSource) Kind() invoicedomain.LineType { return f.kind }

func (f *fakeSource) PendingAdjustments(_ context.Context, _ *gorm.DB, _ snowflake.ID, subtotal decimal.Decimal) ([]invoicedomain.Adjustment, error) {
	f.subtotals = append(f.subtotals, subtotal)
	return f.pending, nil
}

func (f *fakeSource) CommitAdjustments(_ context.Context, _ *gorm.DB, invoice *invoicedomain.Invoice, _ []invoicedomain.Adjustment) error {
	f.committed = append(f.committed, invoice.ID)
	f.pending = nil
	return nil
}

type fixture struct {
	db  *gorm.DB
	svc invoicedomain.Service
}

func newFixture(t *testing.T, sources ...invoicedomain.AdjustmentSource) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&subscriptiondomain.TenantSubscription{},
		&catalogdomain.Plan{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	billing := config.DefaultBillingConfig()
	billing.InvoiceDueDays = 5
	svc := NewService(ServiceParam{
		DB:               conn,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clock.NewFakeClock(time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)),
		Billing:          config.NewStaticBillingConfigHolder(billing),
		Repo:             invoicerepo.Provide(),
		SubscriptionRepo: subscriptionrepo.Provide(),
		CatalogRepo:      catalogrepo.Provide(),
		Adjustments:      sources,
	})
	return &fixture{db: conn, svc: svc}
}

func (f *fixture) seedSubscription(t *testing.T, id, tenantID snowflake.ID, status subscriptiondomain.SubscriptionStatus, amount int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&subscriptiondomain.TenantSubscription{
		ID:                 id,
		TenantID:           tenantID,
		PartnerID:          1,
		Status:             status,
		CurrentPeriodStart: feb1,
		CurrentPeriodEnd:   mar1,
		MonthlyAmount:      decimal.NewFromInt(amount),
		Currency:           "BRL",
		CreatedAt:          feb1,
		UpdatedAt:          feb1,
	}).Error)
}

func TestGenerateIsIdempotentPerPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusActive, 99)

	req := invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: feb1, PeriodEnd: mar1}
	first, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.InvoiceID, second.InvoiceID)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	detail, err := f.svc.Get(ctx, first.InvoiceID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(99).Equal(detail.Amount))
	assert.Equal(t, invoicedomain.InvoiceStatusPending, detail.Status)
	assert.True(t, feb1.AddDate(0, 0, 5).Equal(detail.DueDate))
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, invoicedomain.LineTypeSubscription, detail.Lines[0].LineType)
}

func TestGenerateFoldsAdjustments(t *testing.T) {
	ctx := context.Background()
	coupon := &fakeSource{kind: invoicedomain.LineTypeCoupon, pending: []invoicedomain.Adjustment{
		{Kind: invoicedomain.LineTypeCoupon, ReferenceID: 7, Description: "coupon", Amount: decimal.NewFromInt(30)},
	}}
	proration := &fakeSource{kind: invoicedomain.LineTypeProration, pending: []invoicedomain.Adjustment{
		{Kind: invoicedomain.LineTypeProration, ReferenceID: 8, Description: "upgrade", Amount: decimal.NewFromInt(50)},
	}}
	// registration order must not matter
	f := newFixture(t, coupon, proration)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusActive, 100)

	res, err := f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: mar1, PeriodEnd: apr1})
	require.NoError(t, err)

	detail, err := f.svc.Get(ctx, res.InvoiceID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(detail.Subtotal))
	assert.True(t, decimal.NewFromInt(30).Equal(detail.DiscountAmount))
	assert.True(t, decimal.NewFromInt(120).Equal(detail.Amount))
	assert.Len(t, detail.Lines, 3)

	require.Len(t, coupon.subtotals, 1)
	assert.True(t, decimal.NewFromInt(150).Equal(coupon.subtotals[0]), "coupon sees subtotal after proration")
	assert.Equal(t, []snowflake.ID{res.InvoiceID}, coupon.committed)
	assert.Equal(t, []snowflake.ID{res.InvoiceID}, proration.committed)
}

func TestGenerateZeroAmountIsSettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusTrial, 0)

	res, err := f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: feb1, PeriodEnd: mar1})
	require.NoError(t, err)

	detail, err := f.svc.Get(ctx, res.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, detail.Status)
	assert.NotNil(t, detail.PaidAt)
}

func TestGenerateRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusCanceled, 100)

	_, err := f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: mar1, PeriodEnd: feb1})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPeriod)

	_, err = f.svc.Generate(ctx, invoicedomain.GenerateRequest{SubscriptionID: 100, PeriodStart: feb1, PeriodEnd: mar1})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTenant)

	_, err = f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 11, SubscriptionID: 100, PeriodStart: feb1, PeriodEnd: mar1})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: feb1, PeriodEnd: mar1})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotBillable)
}

func TestGenerateDueCreatesNextPeriodAndRolls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusActive, 100)

	res, err := f.svc.GenerateDue(ctx, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvoicesCreated)
	assert.Equal(t, 0, res.PeriodsAdvanced)

	res, err = f.svc.GenerateDue(ctx, mar1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, res.InvoicesCreated)
	assert.Equal(t, 1, res.InvoicesIdempotent)
	assert.Equal(t, 1, res.PeriodsAdvanced)

	var sub subscriptiondomain.TenantSubscription
	require.NoError(t, f.db.First(&sub, "id = ?", 100).Error)
	assert.True(t, mar1.Equal(sub.CurrentPeriodStart))
	assert.True(t, apr1.Equal(sub.CurrentPeriodEnd))

	invoices, err := f.svc.ListByTenant(ctx, 10)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.True(t, mar1.Equal(invoices[0].PeriodStart))
}

func TestAttachProviderPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusActive, 100)
	f.seedSubscription(t, 101, 11, subscriptiondomain.SubscriptionStatusActive, 100)

	a, err := f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: feb1, PeriodEnd: mar1})
	require.NoError(t, err)
	b, err := f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 11, SubscriptionID: 101, PeriodStart: feb1, PeriodEnd: mar1})
	require.NoError(t, err)

	_, err = f.svc.AttachProviderPayment(ctx, a.InvoiceID, "  ")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidProviderPaymentID)

	inv, err := f.svc.AttachProviderPayment(ctx, a.InvoiceID, "pay_1")
	require.NoError(t, err)
	require.NotNil(t, inv.ProviderPaymentID)
	assert.Equal(t, "pay_1", *inv.ProviderPaymentID)

	_, err = f.svc.AttachProviderPayment(ctx, a.InvoiceID, "pay_1")
	assert.NoError(t, err)

	_, err = f.svc.AttachProviderPayment(ctx, b.InvoiceID, "pay_1")
	assert.ErrorIs(t, err, invoicedomain.ErrProviderPaymentConflict)

	_, err = f.svc.AttachProviderPayment(ctx, a.InvoiceID, "pay_2")
	assert.ErrorIs(t, err, invoicedomain.ErrProviderPaymentConflict)

	_, err = f.svc.AttachProviderPayment(ctx, 999, "pay_3")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestRepriceUpcomingRewritesPendingInvoice(t *testing.T) {
	ctx := context.Background()
	proration := &fakeSource{kind: invoicedomain.LineTypeProration, pending: []invoicedomain.Adjustment{
		{Kind: invoicedomain.LineTypeProration, ReferenceID: 8, Description: "downgrade", Amount: decimal.NewFromInt(-40)},
	}}
	f := newFixture(t, proration)
	f.seedSubscription(t, 100, 10, subscriptiondomain.SubscriptionStatusActive, 100)

	res, err := f.svc.Generate(ctx, invoicedomain.GenerateRequest{TenantID: 10, SubscriptionID: 100, PeriodStart: mar1, PeriodEnd: apr1})
	require.NoError(t, err)

	missing, err := f.svc.RepriceUpcoming(ctx, f.db, invoicedomain.RepriceRequest{TenantID: 10, PeriodStart: apr1, Base: decimal.NewFromInt(150)})
	require.NoError(t, err)
	assert.False(t, missing.Found)

	up, err := f.svc.RepriceUpcoming(ctx, f.db, invoicedomain.RepriceRequest{TenantID: 10, PeriodStart: mar1, Base: decimal.NewFromInt(150)})
	require.NoError(t, err)
	assert.True(t, up.Repriced)
	assert.True(t, up.Unabsorbed.IsZero())

	detail, err := f.svc.Get(ctx, res.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, "110.00", detail.Amount.StringFixed(2))
	assert.Equal(t, invoicedomain.InvoiceStatusPending, detail.Status)
	assert.Equal(t, "150.00", detail.Lines[0].Amount.StringFixed(2))
	assert.Equal(t, "-40.00", detail.Lines[1].Amount.StringFixed(2))

	down, err := f.svc.RepriceUpcoming(ctx, f.db, invoicedomain.RepriceRequest{TenantID: 10, PeriodStart: mar1, Base: decimal.NewFromInt(30)})
	require.NoError(t, err)
	assert.True(t, down.Repriced)
	assert.Equal(t, "-10.00", down.Unabsorbed.StringFixed(2))

	detail, err = f.svc.Get(ctx, res.InvoiceID)
	require.NoError(t, err)
	assert.True(t, detail.Amount.IsZero())
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, detail.Status)
	assert.NotNil(t, detail.PaidAt)

	locked, err := f.svc.RepriceUpcoming(ctx, f.db, invoicedomain.RepriceRequest{TenantID: 10, PeriodStart: mar1, Base: decimal.NewFromInt(200)})
	require.NoError(t, err)
	assert.True(t, locked.Found)
	assert.False(t, locked.Repriced)
	assert.True(t, mar1.Equal(locked.PeriodStart))
	assert.True(t, apr1.Equal(locked.PeriodEnd))
}
