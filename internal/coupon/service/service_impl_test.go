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
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	couponrepo "github.com/smallbiznis/partnerbilling/internal/coupon/repository"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
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
	svc       coupondomain.Service
	node      *snowflake.Node
	clock     *clock.FakeClock
	rebuilder *recordingRebuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&coupondomain.Coupon{},
		&coupondomain.PendingCoupon{},
		&coupondomain.Redemption{},
		&tenantdomain.Tenant{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	rebuilder := &recordingRebuilder{}

	svc := NewService(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         couponrepo.Provide(),
		TenantRepo:   tenantrepo.Provide(),
		Entitlements: rebuilder,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
		}),
	})

	for _, tenant := range []tenantdomain.Tenant{
		{ID: 10, PartnerID: 1, Name: "Bistro", CreatedAt: testNow, UpdatedAt: testNow},
		{ID: 11, PartnerID: 1, Name: "Cantina", CreatedAt: testNow, UpdatedAt: testNow},
		{ID: 20, PartnerID: 2, Name: "Diner", CreatedAt: testNow, UpdatedAt: testNow},
	} {
		require.NoError(t, conn.Create(&tenant).Error)
	}
	return &fixture{db: conn, svc: svc, node: node, clock: clk, rebuilder: rebuilder}
}

func (f *fixture) seedCoupon(t *testing.T, c coupondomain.Coupon) {
	t.Helper()
	c.Active = true
	if c.DiscountType == "" {
		c.DiscountType = coupondomain.DiscountTypePercent
	}
	c.Entitlements = datatypes.NewJSONType(entdomain.Spec{})
	require.NoError(t, f.db.Create(&c).Error)
}

func TestRedeemQueuesCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCoupon(t, coupondomain.Coupon{ID: 1, Code: "WELCOME10", DiscountValue: decimal.NewFromInt(10)})

	pending, err := f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: " welcome10 "})
	require.NoError(t, err)
	assert.Equal(t, coupondomain.PendingStatusPending, pending.Status)
	assert.Empty(t, f.rebuilder.tenants, "no promotion, no rebuild")

	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: "WELCOME10"})
	assert.ErrorIs(t, err, coupondomain.ErrCouponAlreadyQueued)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionCouponRedeemed, logs[0].Action)
}

func TestRedeemPromotionRebuildsEntitlements(t *testing.T) {
	f := newFixture(t)
	f.seedCoupon(t, coupondomain.Coupon{ID: 1, Code: "PROMO", DiscountValue: decimal.Zero, PromotionDays: 30})

	_, err := f.svc.Redeem(context.Background(), coupondomain.RedeemRequest{TenantID: 10, Code: "PROMO"})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{10}, f.rebuilder.tenants)
}

func TestRedeemValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerOne := snowflake.ID(1)
	expired := testNow.Add(-time.Hour)
	f.seedCoupon(t, coupondomain.Coupon{ID: 1, Code: "PARTNER1", PartnerID: &partnerOne, DiscountValue: decimal.NewFromInt(5)})
	f.seedCoupon(t, coupondomain.Coupon{ID: 2, Code: "OLD", ValidUntil: &expired, DiscountValue: decimal.NewFromInt(5)})
	f.seedCoupon(t, coupondomain.Coupon{ID: 3, Code: "ONCE", MaxRedemptions: 1, DiscountValue: decimal.NewFromInt(5)})

	_, err := f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: ""})
	assert.ErrorIs(t, err, coupondomain.ErrInvalidCode)

	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: "MISSING"})
	assert.ErrorIs(t, err, coupondomain.ErrCouponNotFound)

	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 99, Code: "ONCE"})
	assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)

	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 20, Code: "PARTNER1"})
	assert.ErrorIs(t, err, coupondomain.ErrCouponScopeMismatch)

	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: "OLD"})
	assert.ErrorIs(t, err, coupondomain.ErrCouponNotRedeemable)

	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: "ONCE"})
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 11, Code: "ONCE"})
	assert.ErrorIs(t, err, coupondomain.ErrCouponExhausted)
}

func TestInvoiceAdjustmentsConsumeQueuedCoupons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCoupon(t, coupondomain.Coupon{ID: 1, Code: "HALF", DiscountValue: decimal.NewFromInt(50)})
	f.seedCoupon(t, coupondomain.Coupon{ID: 2, Code: "FLAT80", DiscountType: coupondomain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(80)})

	_, err := f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: "HALF"})
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, coupondomain.RedeemRequest{TenantID: 10, Code: "FLAT80"})
	require.NoError(t, err)

	source := NewInvoiceAdjustments(couponrepo.Provide(), f.node, f.clock)
	adjs, err := source.PendingAdjustments(ctx, f.db, 10, decimal.NewFromInt(120))
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	assert.Equal(t, "60.00", adjs[0].Amount.StringFixed(2))
	assert.Equal(t, "60.00", adjs[1].Amount.StringFixed(2), "second coupon capped at what is left")

	invoice := &invoicedomain.Invoice{ID: 900, TenantID: 10}
	require.NoError(t, source.CommitAdjustments(ctx, f.db, invoice, adjs))

	var redemptions []coupondomain.Redemption
	require.NoError(t, f.db.Order("coupon_id").Find(&redemptions).Error)
	require.Len(t, redemptions, 2)
	assert.Equal(t, snowflake.ID(900), redemptions[0].InvoiceID)

	adjs, err = source.PendingAdjustments(ctx, f.db, 10, decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.Empty(t, adjs)
}
