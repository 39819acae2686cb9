package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	"github.com/smallbiznis/partnerbilling/internal/audit/repository"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	obscontext "github.com/smallbiznis/partnerbilling/internal/observability/context"
	"github.com/smallbiznis/partnerbilling/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(Params{
		DB:    dbtest.Open(t, &auditdomain.AuditLog{}),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestRecordResolvesActorFromContext(t *testing.T) {
	svc := newTestService(t)
	partnerID := snowflake.ID(42)

	ctx := obscontext.WithActor(context.Background(), "operator", "ops-1")
	ctx = obscontext.WithCorrelationID(ctx, "01HZZZ")
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{
		PartnerID:  &partnerID,
		Action:     auditdomain.ActionPartnerReactivated,
		TargetType: "partner",
		TargetID:   partnerID.String(),
		Metadata:   map[string]any{"api_token": "tok_12345678"},
	}))

	logs, err := svc.List(context.Background(), auditdomain.ListRequest{PartnerID: &partnerID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "operator", logs[0].ActorType)
	assert.Equal(t, "ops-1", logs[0].ActorID)
	assert.Equal(t, "01HZZZ", logs[0].Metadata["correlation_id"])
	assert.Equal(t, "tok_****5678", logs[0].Metadata["api_token"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc := newTestService(t)
	tenantID := snowflake.ID(7)

	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{
		TenantID: &tenantID,
		Action:   auditdomain.ActionDunningApplied,
	}))

	logs, err := svc.List(context.Background(), auditdomain.ListRequest{TenantID: &tenantID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), logs[0].ActorType)
	assert.Equal(t, "unknown", logs[0].TargetType)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc := newTestService(t)
	err := svc.Record(context.Background(), nil, auditdomain.Entry{Action: " "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListRequiresScope(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.List(context.Background(), auditdomain.ListRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidFilter)
}
