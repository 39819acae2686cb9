package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	auditrepo "github.com/smallbiznis/partnerbilling/internal/audit/repository"
	auditservice "github.com/smallbiznis/partnerbilling/internal/audit/service"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/partnerbilling/internal/catalog/repository"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/partnerbilling/internal/invoice/repository"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/partnerbilling/internal/subscription/repository"
	"github.com/smallbiznis/partnerbilling/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var feb1 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type recordingRebuilder struct {
	tenants []snowflake.ID
}

func (r *recordingRebuilder) RebuildTx(_ context.Context, _ *gorm.DB, tenantID snowflake.ID) error {
	r.tenants = append(r.tenants, tenantID)
	return nil
}

type fixture struct {
	db        *gorm.DB
	svc       subscriptiondomain.Service
	rebuilder *recordingRebuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&subscriptiondomain.TenantSubscription{},
		&catalogdomain.Plan{},
		&invoicedomain.Invoice{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(feb1.Add(9 * time.Hour))
	rebuilder := &recordingRebuilder{}

	svc := NewService(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         subscriptionrepo.Provide(),
		CatalogRepo:  catalogrepo.Provide(),
		InvoiceRepo:  invoicerepo.Provide(),
		Entitlements: rebuilder,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
		}),
	})

	require.NoError(t, conn.Create(&catalogdomain.Plan{
		ID:            1,
		PartnerID:     1,
		Code:          "pro",
		Name:          "Pro",
		MonthlyAmount: decimal.NewFromInt(150),
		Currency:      "BRL",
		BillingCycle:  catalogdomain.BillingCycleMonthly,
		Active:        true,
		Entitlements:  datatypes.NewJSONType(entdomain.Spec{}),
		CreatedAt:     feb1,
	}).Error)
	return &fixture{db: conn, svc: svc, rebuilder: rebuilder}
}

func TestCreateWithPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	planID := snowflake.ID(1)

	sub, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 10, PartnerID: 1, PlanID: &planID})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "150.00", sub.MonthlyAmount.StringFixed(2))
	assert.True(t, feb1.Equal(sub.CurrentPeriodStart))
	assert.True(t, feb1.AddDate(0, 1, 0).Equal(sub.CurrentPeriodEnd))
	assert.Equal(t, []snowflake.ID{10}, f.rebuilder.tenants)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 10, PartnerID: 1, PlanID: &planID})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionExists)

	got, err := f.svc.GetByTenant(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = f.svc.GetByTenant(ctx, 11)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	otherPlan := snowflake.ID(42)

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{PartnerID: 1, Currency: "BRL"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTenant)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 10, PartnerID: 1})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidCurrency)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 10, PartnerID: 1, Currency: "BRL", MonthlyAmount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidAmount)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 10, PartnerID: 1, PlanID: &otherPlan})
	assert.ErrorIs(t, err, catalogdomain.ErrPlanNotFound)
}

func TestTransitionTrials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	planID := snowflake.ID(1)

	withPlan, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 10, PartnerID: 1, PlanID: &planID, TrialDays: 14})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrial, withPlan.Status)

	bare, err := f.svc.Create(ctx, subscriptiondomain.CreateRequest{TenantID: 11, PartnerID: 1, TrialDays: 14, Currency: "brl"})
	require.NoError(t, err)
	assert.Equal(t, "BRL", bare.Currency)

	trialEnd := feb1.AddDate(0, 0, 14)
	require.NoError(t, f.db.Create(&invoicedomain.Invoice{
		ID:             500,
		TenantID:       11,
		PartnerID:      1,
		SubscriptionID: bare.ID,
		PeriodStart:    trialEnd,
		PeriodEnd:      trialEnd.AddDate(0, 1, 0),
		Subtotal:       decimal.NewFromInt(10),
		DiscountAmount: decimal.Zero,
		Amount:         decimal.NewFromInt(10),
		Currency:       "BRL",
		DueDate:        trialEnd,
		Status:         invoicedomain.InvoiceStatusPending,
		CreatedAt:      feb1,
		UpdatedAt:      feb1,
	}).Error)

	res, err := f.svc.TransitionTrials(ctx, trialEnd.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.TrialResult{}, res)

	res, err = f.svc.TransitionTrials(ctx, trialEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Activated)
	assert.Equal(t, 1, res.Expired)

	got, err := f.svc.GetByTenant(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	got, err = f.svc.GetByTenant(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, got.Status)

	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.First(&invoice, "id = ?", 500).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusCanceled, invoice.Status)

	res, err = f.svc.TransitionTrials(ctx, trialEnd)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.TrialResult{}, res)
}
