package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ChangePlanRequest struct {
	TenantID  snowflake.ID `json:"tenant_id"`
	NewPlanID snowflake.ID `json:"plan_id"`
	Waive     bool         `json:"waive_proration"`
	ActorID   string       `json:"-"`
}

type ChangePlanResult struct {
	Calculation
	RecordID snowflake.ID `json:"proration_record_id"`
	Status   Status       `json:"status"`
}

type Service interface {
	Calculate(ctx context.Context, tenantID, newPlanID snowflake.ID) (Calculation, error)
	ChangePlanWithProration(ctx context.Context, req ChangePlanRequest) (ChangePlanResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *ProrationRecord) error
	ListPendingByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]ProrationRecord, error)
	MarkApplied(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, now time.Time) (int64, error)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrPlanScopeMismatch = errors.New("plan_scope_mismatch")
	ErrSamePlan          = errors.New("same_plan")
)
