package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "trial"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// Entitled reports whether the plan of a subscription in this status grants entitlements.
func (s SubscriptionStatus) Entitled() bool {
	switch s {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// TenantSubscription is the single subscription row of a tenant. Rows are never deleted.
type TenantSubscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	TenantID               snowflake.ID       `gorm:"not null;uniqueIndex" json:"tenant_id"`
	PartnerID              snowflake.ID       `gorm:"not null;index" json:"partner_id"`
	PlanID                 *snowflake.ID      `json:"plan_id,omitempty"`
	Status                 SubscriptionStatus `gorm:"type:text;not null;index" json:"status"`
	TrialStartsAt          *time.Time         `json:"trial_starts_at,omitempty"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart     time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `gorm:"not null;index" json:"current_period_end"`
	ExternalSubscriptionID string             `gorm:"type:text" json:"external_subscription_id,omitempty"`
	PaymentProvider        string             `gorm:"type:text" json:"payment_provider,omitempty"`
	PaymentMethodAttached  bool               `gorm:"not null;default:false" json:"payment_method_attached"`
	MonthlyAmount          decimal.Decimal    `gorm:"type:numeric(18,2);not null" json:"monthly_amount"`
	Currency               string             `gorm:"type:text;not null" json:"currency"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt              time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null" json:"updated_at"`
}

func (TenantSubscription) TableName() string { return "tenant_subscriptions" }
