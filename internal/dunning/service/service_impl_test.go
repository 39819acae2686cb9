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
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/partnerbilling/internal/invoice/repository"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/partnerbilling/internal/subscription/repository"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/partnerbilling/internal/tenant/repository"
	"github.com/smallbiznis/partnerbilling/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

type recordingRebuilder struct {
	tenants []snowflake.ID
}

func (r *recordingRebuilder) RebuildTx(_ context.Context, _ *gorm.DB, tenantID snowflake.ID) error {
	r.tenants = append(r.tenants, tenantID)
	return nil
}

type fixture struct {
	db        *gorm.DB
	svc       dunningdomain.Service
	node      *snowflake.Node
	clock     *clock.FakeClock
	rebuilder *recordingRebuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&tenantdomain.Partner{},
		&tenantdomain.Tenant{},
		&invoicedomain.Invoice{},
		&subscriptiondomain.TenantSubscription{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	rebuilder := &recordingRebuilder{}

	svc := NewService(Params{
		DB:               conn,
		Log:              zap.NewNop(),
		Clock:            clk,
		Billing:          config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		TenantRepo:       tenantrepo.Provide(),
		InvoiceRepo:      invoicerepo.Provide(),
		SubscriptionRepo: subscriptionrepo.Provide(),
		Entitlements:     rebuilder,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
		}),
	})
	return &fixture{db: conn, svc: svc, node: node, clock: clk, rebuilder: rebuilder}
}

func (f *fixture) seedPartner(t *testing.T, id snowflake.ID, status tenantdomain.PartnerStatus, tenantIDs ...snowflake.ID) {
	t.Helper()
	require.NoError(t, f.db.Create(&tenantdomain.Partner{
		ID:        id,
		Name:      "partner",
		Status:    status,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}).Error)
	for _, tenantID := range tenantIDs {
		require.NoError(t, f.db.Create(&tenantdomain.Tenant{
			ID:        tenantID,
			PartnerID: id,
			Name:      "tenant",
			CreatedAt: testNow,
			UpdatedAt: testNow,
		}).Error)
	}
}

func (f *fixture) seedSubscription(t *testing.T, tenantID, partnerID snowflake.ID, status subscriptiondomain.SubscriptionStatus) {
	t.Helper()
	require.NoError(t, f.db.Create(&subscriptiondomain.TenantSubscription{
		ID:                 f.node.Generate(),
		TenantID:           tenantID,
		PartnerID:          partnerID,
		Status:             status,
		CurrentPeriodStart: testNow.AddDate(0, -1, 0),
		CurrentPeriodEnd:   testNow.AddDate(0, 0, 1),
		MonthlyAmount:      decimal.NewFromInt(99),
		Currency:           "BRL",
		CreatedAt:          testNow,
		UpdatedAt:          testNow,
	}).Error)
}

// seedInvoice creates an invoice due daysAgo days before the fixture day.
func (f *fixture) seedInvoice(t *testing.T, tenantID, partnerID snowflake.ID, daysAgo int, status invoicedomain.InvoiceStatus) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	due := clock.Day(testNow).AddDate(0, 0, -daysAgo)
	require.NoError(t, f.db.Create(&invoicedomain.Invoice{
		ID:             id,
		TenantID:       tenantID,
		PartnerID:      partnerID,
		SubscriptionID: 1,
		PeriodStart:    due.AddDate(0, -1, 0),
		PeriodEnd:      due,
		Subtotal:       decimal.NewFromInt(99),
		DiscountAmount: decimal.Zero,
		Amount:         decimal.NewFromInt(99),
		Currency:       "BRL",
		DueDate:        due,
		Status:         status,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}).Error)
	return id
}

func TestComputeAccessStateLevelTable(t *testing.T) {
	cases := []struct {
		days  int
		level int
	}{
		{2, 0},
		{3, 1},
		{15, 2},
		{16, 3},
		{29, 3},
		{30, 4},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10)
		f.seedInvoice(t, 10, 1, tc.days, invoicedomain.InvoiceStatusPending)

		state, err := f.svc.ComputeAccessState(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, tc.level, state.DunningLevel, "days=%d", tc.days)
		assert.Equal(t, tc.days, state.MaxDaysOverdue)
		assert.Equal(t, 1, state.OverdueCount)
		assert.Equal(t, tc.level == 2, state.ReadOnly)
		assert.Equal(t, tc.level >= 4, state.Blocked)
	}
}

func TestComputeAccessStateUsesOldestInvoiceAcrossTenants(t *testing.T) {
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10, 11)
	f.seedInvoice(t, 10, 1, 4, invoicedomain.InvoiceStatusOverdue)
	f.seedInvoice(t, 11, 1, 20, invoicedomain.InvoiceStatusOverdue)
	f.seedInvoice(t, 11, 1, 40, invoicedomain.InvoiceStatusPaid)

	state, err := f.svc.ComputeAccessState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, state.DunningLevel)
	assert.Equal(t, 2, state.OverdueCount)
	assert.True(t, decimal.NewFromInt(198).Equal(state.OverdueAmount))
}

func TestComputeAccessStateWithoutTenants(t *testing.T) {
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive)

	state, err := f.svc.ComputeAccessState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, state.DunningLevel)
	assert.Zero(t, state.OverdueCount)

	_, err = f.svc.ComputeAccessState(context.Background(), 99)
	assert.ErrorIs(t, err, tenantdomain.ErrPartnerNotFound)

	_, err = f.svc.ComputeAccessState(context.Background(), 0)
	assert.ErrorIs(t, err, dunningdomain.ErrInvalidPartner)
}

func TestComputeAccessStateCacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10)

	state, err := f.svc.ComputeAccessState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, state.DunningLevel)

	f.seedInvoice(t, 10, 1, 10, invoicedomain.InvoiceStatusOverdue)
	cached, err := f.svc.ComputeAccessState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, cached.DunningLevel)

	f.svc.Invalidate(1)
	fresh, err := f.svc.ComputeAccessState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.DunningLevel)
}

func TestComputeAccessStateHonoursPartnerPolicy(t *testing.T) {
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10)
	require.NoError(t, f.db.Model(&tenantdomain.Partner{}).Where("id = ?", 1).
		Update("dunning_policy", datatypes.NewJSONType(&tenantdomain.DunningPolicy{
			GraceDays: 5, ReadOnlyAfterDays: 10, SuspendAfterDays: 20, BlockAfterDays: 40,
		})).Error)
	f.seedInvoice(t, 10, 1, 4, invoicedomain.InvoiceStatusOverdue)

	state, err := f.svc.ComputeAccessState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, state.DunningLevel)
}

func TestApplyDunningPolicyPersistsFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10)
	f.seedSubscription(t, 10, 1, subscriptiondomain.SubscriptionStatusActive)
	invoiceID := f.seedInvoice(t, 10, 1, 16, invoicedomain.InvoiceStatusOverdue)

	result, err := f.svc.ApplyDunningPolicy(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.PreviousLevel)
	assert.Equal(t, 3, result.DunningLevel)
	assert.Equal(t, string(subscriptiondomain.SubscriptionStatusPastDue), result.SubscriptionStatus)
	assert.False(t, result.PartnerSuspended)

	var tenant tenantdomain.Tenant
	require.NoError(t, f.db.First(&tenant, "id = ?", 10).Error)
	assert.Equal(t, 3, tenant.DunningLevel)
	assert.False(t, tenant.ReadOnly)
	assert.NotNil(t, tenant.SuspendedAt)

	var audits int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionDunningApplied).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)

	// unchanged level is not audited again
	_, err = f.svc.ApplyDunningPolicy(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionDunningApplied).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)

	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("id = ?", invoiceID).
		Update("status", invoicedomain.InvoiceStatusPaid).Error)
	recovered, err := f.svc.ApplyDunningPolicy(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered.DunningLevel)
	assert.Equal(t, string(subscriptiondomain.SubscriptionStatusActive), recovered.SubscriptionStatus)

	require.NoError(t, f.db.First(&tenant, "id = ?", 10).Error)
	assert.Equal(t, 0, tenant.DunningLevel)
	assert.Nil(t, tenant.SuspendedAt)
}

func TestApplyDunningPolicySuspendsPartnerAtBlock(t *testing.T) {
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10)
	f.seedInvoice(t, 10, 1, 31, invoicedomain.InvoiceStatusOverdue)

	result, err := f.svc.ApplyDunningPolicy(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 4, result.DunningLevel)
	assert.True(t, result.Blocked)
	assert.True(t, result.PartnerSuspended)

	var partner tenantdomain.Partner
	require.NoError(t, f.db.First(&partner, "id = ?", 1).Error)
	assert.Equal(t, tenantdomain.PartnerStatusSuspended, partner.Status)
	assert.NotNil(t, partner.SuspendedAt)

	_, err = f.svc.ApplyDunningPolicy(context.Background(), 404)
	assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
}

func TestRunDunningMarksOverdueAndApplies(t *testing.T) {
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10, 11, 12)
	f.seedInvoice(t, 10, 1, 9, invoicedomain.InvoiceStatusPending)
	f.seedInvoice(t, 11, 1, 1, invoicedomain.InvoiceStatusPending)
	f.seedInvoice(t, 12, 1, -3, invoicedomain.InvoiceStatusPending)

	result, err := f.svc.RunDunning(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.InvoicesMarkedOverdue)
	assert.Equal(t, 2, result.DunningApplied)

	var levels []int
	require.NoError(t, f.db.Model(&tenantdomain.Tenant{}).Order("id").Pluck("dunning_level", &levels).Error)
	assert.Equal(t, []int{2, 0, 0}, levels)

	var pending int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("status = ?", invoicedomain.InvoiceStatusPending).Count(&pending).Error)
	assert.Equal(t, int64(1), pending)
}

func TestReactivatePartnersRequiresZeroOpenInvoices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusSuspended, 10)
	f.seedPartner(t, 2, tenantdomain.PartnerStatusSuspended, 20)
	f.seedSubscription(t, 20, 2, subscriptiondomain.SubscriptionStatusPastDue)
	require.NoError(t, f.db.Model(&tenantdomain.Tenant{}).Where("id IN ?", []snowflake.ID{10, 20}).
		Updates(map[string]any{"dunning_level": 4, "blocked": true}).Error)

	f.seedInvoice(t, 10, 1, 35, invoicedomain.InvoiceStatusOverdue)
	f.seedInvoice(t, 20, 2, 35, invoicedomain.InvoiceStatusPaid)

	count, err := f.svc.ReactivatePartners(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var partners []tenantdomain.Partner
	require.NoError(t, f.db.Order("id").Find(&partners).Error)
	assert.Equal(t, tenantdomain.PartnerStatusSuspended, partners[0].Status)
	assert.Equal(t, tenantdomain.PartnerStatusActive, partners[1].Status)
	assert.Nil(t, partners[1].SuspendedAt)

	var tenant tenantdomain.Tenant
	require.NoError(t, f.db.First(&tenant, "id = ?", 20).Error)
	assert.Equal(t, 0, tenant.DunningLevel)
	assert.False(t, tenant.Blocked)

	var sub subscriptiondomain.TenantSubscription
	require.NoError(t, f.db.First(&sub, "tenant_id = ?", 20).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)

	again, err := f.svc.ReactivatePartners(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSetPartnerPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPartner(t, 1, tenantdomain.PartnerStatusActive, 10, 11)
	f.seedInvoice(t, 10, 1, 9, invoicedomain.InvoiceStatusOverdue)

	err := f.svc.SetPartnerPolicy(ctx, dunningdomain.SetPolicyRequest{
		PartnerID: 1,
		Policy:    &dunningdomain.Policy{GraceDays: 10, ReadOnlyAfterDays: 5, SuspendAfterDays: 20, BlockAfterDays: 40},
	})
	assert.ErrorIs(t, err, dunningdomain.ErrInvalidPolicy)

	err = f.svc.SetPartnerPolicy(ctx, dunningdomain.SetPolicyRequest{
		PartnerID: 1,
		Policy:    &dunningdomain.Policy{GraceDays: 10, ReadOnlyAfterDays: 15, SuspendAfterDays: 20, BlockAfterDays: 40},
		ActorID:   "ops@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{10, 11}, f.rebuilder.tenants)

	state, err := f.svc.ComputeAccessState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, state.DunningLevel)

	var audit auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionDunningPolicyUpdate).First(&audit).Error)
	assert.Equal(t, "ops@example.com", audit.ActorID)

	require.NoError(t, f.svc.SetPartnerPolicy(ctx, dunningdomain.SetPolicyRequest{PartnerID: 1}))
	f.svc.Invalidate(1)
	state, err = f.svc.ComputeAccessState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, state.DunningLevel)

	assert.ErrorIs(t, f.svc.SetPartnerPolicy(ctx, dunningdomain.SetPolicyRequest{PartnerID: 99}), tenantdomain.ErrPartnerNotFound)
}
