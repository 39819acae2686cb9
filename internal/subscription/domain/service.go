package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	TenantID              snowflake.ID
	PartnerID             snowflake.ID
	PlanID                *snowflake.ID
	TrialDays             int
	PeriodStart           time.Time
	MonthlyAmount         decimal.Decimal
	Currency              string
	PaymentProvider       string
	PaymentMethodAttached bool
}

// TrialResult counts the outcome of ending trials for one target date.
type TrialResult struct {
	Activated int `json:"trials_activated"`
	Expired   int `json:"trials_expired"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*TenantSubscription, error)
	GetByTenant(ctx context.Context, tenantID snowflake.ID) (*TenantSubscription, error)
	TransitionTrials(ctx context.Context, targetDate time.Time) (TrialResult, error)
}

var (
	ErrSubscriptionNotFound      = errors.New("subscription_not_found")
	ErrSubscriptionExists        = errors.New("subscription_already_exists")
	ErrSubscriptionNotBillable   = errors.New("subscription_not_billable")
	ErrSubscriptionNotChangeable = errors.New("subscription_not_changeable")
	ErrInvalidTenant             = errors.New("invalid_tenant")
	ErrInvalidCurrency           = errors.New("invalid_currency")
	ErrInvalidAmount             = errors.New("invalid_amount")
)
