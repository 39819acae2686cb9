package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	ReasonNotEntitled   = "not_entitled"
	ReasonDisabled      = "disabled"
	ReasonEnabled       = "enabled"
	ReasonUnlimited     = "unlimited"
	ReasonWithinLimit   = "within_limit"
	ReasonLimitExceeded = "limit_exceeded"
)

// CheckResult is the answer to a feature gate or usage cap query.
type CheckResult struct {
	Allowed      bool   `json:"allowed"`
	CurrentValue *Value `json:"current_value"`
	Source       Source `json:"source,omitempty"`
	Reason       string `json:"reason"`
}

// Effective is the resolved value for one key.
type Effective struct {
	Key    string `json:"key"`
	Value  Value  `json:"value"`
	Source Source `json:"source"`
}

type OverrideRequest struct {
	TenantID       snowflake.ID
	Key            string
	Value          Value
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	Reason         string
	ActorID        string
}

// Rebuilder recomputes a tenant's rows inside the caller's transaction.
type Rebuilder interface {
	RebuildTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
}

type Service interface {
	Rebuilder
	Rebuild(ctx context.Context, tenantID snowflake.ID) error
	Check(ctx context.Context, tenantID snowflake.ID, key string, requested *int64) (CheckResult, error)
	Resolve(ctx context.Context, tenantID snowflake.ID) (map[string]Effective, error)
	SetManualOverride(ctx context.Context, req OverrideRequest) (*Override, error)
}

type Repository interface {
	DeleteByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) error
	InsertBatch(ctx context.Context, db *gorm.DB, rows []TenantEntitlement) error
	ListByTenantKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) ([]TenantEntitlement, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]TenantEntitlement, error)
	InsertOverride(ctx context.Context, db *gorm.DB, override *Override) error
	ListOverrides(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Override, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidKey       = errors.New("invalid_entitlement_key")
	ErrInvalidLimit     = errors.New("invalid_entitlement_limit")
	ErrInvalidWindow    = errors.New("invalid_effective_window")
	ErrInvalidRequested = errors.New("invalid_requested_value")
)
