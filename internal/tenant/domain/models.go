package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PartnerStatus string

const (
	PartnerStatusActive    PartnerStatus = "active"
	PartnerStatusSuspended PartnerStatus = "suspended"
)

// DunningPolicy is a per-partner override of the global dunning thresholds.
type DunningPolicy struct {
	GraceDays         int `json:"grace_days"`
	ReadOnlyAfterDays int `json:"read_only_after_days"`
	SuspendAfterDays  int `json:"suspend_after_days"`
	BlockAfterDays    int `json:"block_after_days"`
}

type Partner struct {
	ID            snowflake.ID                       `gorm:"primaryKey" json:"id"`
	Name          string                             `gorm:"type:text;not null" json:"name"`
	Status        PartnerStatus                      `gorm:"type:text;not null;default:active" json:"status"`
	SuspendedAt   *time.Time                         `json:"suspended_at,omitempty"`
	DunningPolicy datatypes.JSONType[*DunningPolicy] `gorm:"not null" json:"dunning_policy"`
	CreatedAt     time.Time                          `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                          `gorm:"not null" json:"updated_at"`
}

func (Partner) TableName() string { return "partners" }

type Tenant struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	PartnerID    snowflake.ID `gorm:"not null;index" json:"partner_id"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	DunningLevel int          `gorm:"not null;default:0" json:"dunning_level"`
	ReadOnly     bool         `gorm:"not null;default:false" json:"read_only"`
	Blocked      bool         `gorm:"not null;default:false" json:"blocked"`
	SuspendedAt  *time.Time   `json:"suspended_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// DunningFlags is the persisted enforcement state of a tenant.
type DunningFlags struct {
	Level       int
	ReadOnly    bool
	Blocked     bool
	SuspendedAt *time.Time
}

type Repository interface {
	InsertPartner(ctx context.Context, db *gorm.DB, partner *Partner) error
	InsertTenant(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindPartner(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Partner, error)
	FindTenant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	ListTenantsByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]Tenant, error)
	// ListPartnersNeedingReactivation returns partners that are suspended or
	// have any tenant with a non-zero dunning level.
	ListPartnersNeedingReactivation(ctx context.Context, db *gorm.DB) ([]Partner, error)
	// ListFlaggedTenantIDs returns tenants currently carrying a non-zero dunning level.
	ListFlaggedTenantIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
	UpdateTenantDunning(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, flags DunningFlags, now time.Time) error
	ResetTenantsDunning(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) (int64, error)
	SuspendPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) error
	ReactivatePartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) error
	UpdatePartnerPolicy(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, policy *DunningPolicy, now time.Time) error
}

var (
	ErrPartnerNotFound = errors.New("partner_not_found")
	ErrTenantNotFound  = errors.New("tenant_not_found")
)
