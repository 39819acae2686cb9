package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// TenantAddon is an add-on purchase of a tenant.
type TenantAddon struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	AddonID    snowflake.ID `gorm:"not null" json:"addon_id"`
	Status     Status       `gorm:"type:text;not null" json:"status"`
	StartedAt  time.Time    `gorm:"not null" json:"started_at"`
	CanceledAt *time.Time   `json:"canceled_at,omitempty"`
}

func (TenantAddon) TableName() string { return "tenant_addons" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, addon *TenantAddon) error
	FindActive(ctx context.Context, db *gorm.DB, tenantID, addonID snowflake.ID) (*TenantAddon, error)
	ListActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]TenantAddon, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

type Service interface {
	Subscribe(ctx context.Context, tenantID, addonID snowflake.ID) (*TenantAddon, error)
	Cancel(ctx context.Context, tenantID, addonID snowflake.ID) error
	ListActive(ctx context.Context, tenantID snowflake.ID) ([]TenantAddon, error)
}

var (
	ErrAlreadySubscribed = errors.New("addon_already_subscribed")
	ErrNotSubscribed     = errors.New("addon_not_subscribed")
	ErrScopeMismatch     = errors.New("addon_scope_mismatch")
	ErrAddonInactive     = errors.New("addon_inactive")
)
