package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *TenantSubscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TenantSubscription, error)
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantSubscription, error)
	FindByTenantForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantSubscription, error)
	ListDueForInvoice(ctx context.Context, db *gorm.DB, horizon time.Time) ([]TenantSubscription, error)
	ListRollable(ctx context.Context, db *gorm.DB, targetDate time.Time) ([]TenantSubscription, error)
	ListTrialsEnding(ctx context.Context, db *gorm.DB, targetDate time.Time) ([]TenantSubscription, error)
	// AdvancePeriod moves the period forward only if it still ends at fromEnd.
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, fromEnd, newEnd time.Time, now time.Time) (bool, error)
	// UpdateStatus transitions the row only when its current status is one of from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []SubscriptionStatus, to SubscriptionStatus, now time.Time) (bool, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID snowflake.ID, amount decimal.Decimal, currency string, now time.Time) error
	ReactivatePastDueByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) (int64, error)
}
