package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	addonrepo "github.com/smallbiznis/partnerbilling/internal/addon/repository"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	auditrepo "github.com/smallbiznis/partnerbilling/internal/audit/repository"
	auditservice "github.com/smallbiznis/partnerbilling/internal/audit/service"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/partnerbilling/internal/catalog/repository"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
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

func newTestService(t *testing.T) (addondomain.Service, *gorm.DB, *recordingRebuilder) {
	t.Helper()
	conn := dbtest.Open(t,
		&addondomain.TenantAddon{},
		&catalogdomain.Addon{},
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
		Repo:         addonrepo.Provide(),
		CatalogRepo:  catalogrepo.Provide(),
		TenantRepo:   tenantrepo.Provide(),
		Entitlements: rebuilder,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
		}),
	})

	require.NoError(t, conn.Create(&tenantdomain.Tenant{ID: 10, PartnerID: 1, Name: "Bistro", CreatedAt: testNow, UpdatedAt: testNow}).Error)
	for _, addon := range []catalogdomain.Addon{
		{ID: 1, PartnerID: 1, Code: "delivery", Name: "Delivery", Active: true},
		{ID: 2, PartnerID: 1, Code: "legacy", Name: "Legacy", Active: false},
		{ID: 3, PartnerID: 2, Code: "other", Name: "Other", Active: true},
	} {
		addon.MonthlyAmount = decimal.NewFromInt(20)
		addon.Currency = "BRL"
		addon.Entitlements = datatypes.NewJSONType(entdomain.Spec{"delivery": entdomain.Flag(true)})
		require.NoError(t, conn.Create(&addon).Error)
	}
	return svc, conn, rebuilder
}

func TestSubscribeAndCancel(t *testing.T) {
	ctx := context.Background()
	svc, conn, rebuilder := newTestService(t)

	row, err := svc.Subscribe(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, addondomain.StatusActive, row.Status)

	_, err = svc.Subscribe(ctx, 10, 1)
	assert.ErrorIs(t, err, addondomain.ErrAlreadySubscribed)

	active, err := svc.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, svc.Cancel(ctx, 10, 1))
	assert.ErrorIs(t, svc.Cancel(ctx, 10, 1), addondomain.ErrNotSubscribed)
	assert.Equal(t, []snowflake.ID{10, 10}, rebuilder.tenants)

	active, err = svc.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, active)

	var actions []string
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).Order("created_at, id").Pluck("action", &actions).Error)
	assert.Equal(t, []string{auditdomain.ActionAddonSubscribed, auditdomain.ActionAddonCanceled}, actions)
}

func TestSubscribeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, rebuilder := newTestService(t)

	_, err := svc.Subscribe(ctx, 10, 2)
	assert.ErrorIs(t, err, addondomain.ErrAddonInactive)

	_, err = svc.Subscribe(ctx, 10, 3)
	assert.ErrorIs(t, err, addondomain.ErrScopeMismatch)

	_, err = svc.Subscribe(ctx, 10, 99)
	assert.ErrorIs(t, err, catalogdomain.ErrAddonNotFound)

	_, err = svc.Subscribe(ctx, 99, 1)
	assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)

	assert.Empty(t, rebuilder.tenants)
}
