package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleWeekly  BillingCycle = "weekly"
	BillingCycleDaily   BillingCycle = "daily"
)

// Next returns the end of the period that starts at start.
func (c BillingCycle) Next(start time.Time) time.Time {
	switch c {
	case BillingCycleDaily:
		return start.AddDate(0, 0, 1)
	case BillingCycleWeekly:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 1, 0)
	}
}

type Plan struct {
	ID            snowflake.ID                       `gorm:"primaryKey" json:"id"`
	PartnerID     snowflake.ID                       `gorm:"not null;index;uniqueIndex:ux_plans_partner_code,priority:1" json:"partner_id"`
	Code          string                             `gorm:"type:text;not null;uniqueIndex:ux_plans_partner_code,priority:2" json:"code"`
	Name          string                             `gorm:"type:text;not null" json:"name"`
	MonthlyAmount decimal.Decimal                    `gorm:"type:numeric(18,2);not null" json:"monthly_amount"`
	Currency      string                             `gorm:"type:text;not null" json:"currency"`
	BillingCycle  BillingCycle                       `gorm:"type:text;not null;default:monthly" json:"billing_cycle"`
	Active        bool                               `gorm:"not null" json:"active"`
	Entitlements  datatypes.JSONType[entdomain.Spec] `gorm:"not null" json:"entitlements"`
	CreatedAt     time.Time                          `gorm:"not null" json:"created_at"`
}

func (Plan) TableName() string { return "plans" }

type Addon struct {
	ID            snowflake.ID                       `gorm:"primaryKey" json:"id"`
	PartnerID     snowflake.ID                       `gorm:"not null;index" json:"partner_id"`
	Code          string                             `gorm:"type:text;not null" json:"code"`
	Name          string                             `gorm:"type:text;not null" json:"name"`
	MonthlyAmount decimal.Decimal                    `gorm:"type:numeric(18,2);not null" json:"monthly_amount"`
	Currency      string                             `gorm:"type:text;not null" json:"currency"`
	Entitlements  datatypes.JSONType[entdomain.Spec] `gorm:"not null" json:"entitlements"`
	Active        bool                               `gorm:"not null" json:"active"`
}

func (Addon) TableName() string { return "addons" }

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	InsertAddon(ctx context.Context, db *gorm.DB, addon *Addon) error
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindAddon(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Addon, error)
	FindAddons(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Addon, error)
}

var (
	ErrPlanNotFound  = errors.New("plan_not_found")
	ErrAddonNotFound = errors.New("addon_not_found")
)
