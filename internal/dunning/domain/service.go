package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AccessState is the derived dunning position of a partner.
type AccessState struct {
	PartnerID      snowflake.ID    `json:"partner_id"`
	DunningLevel   int             `json:"dunning_level"`
	Blocked        bool            `json:"blocked"`
	ReadOnly       bool            `json:"read_only"`
	Message        string          `json:"message,omitempty"`
	OverdueCount   int             `json:"overdue_count"`
	OverdueAmount  decimal.Decimal `json:"overdue_amount"`
	MaxDaysOverdue int             `json:"max_days_overdue"`
}

// NewAccessState fills the flags and message that follow from level.
func NewAccessState(partnerID snowflake.ID, level int) AccessState {
	return AccessState{
		PartnerID:     partnerID,
		DunningLevel:  level,
		Blocked:       level >= LevelBlocked,
		ReadOnly:      level == LevelReadOnly,
		Message:       MessageFor(level),
		OverdueAmount: decimal.Zero,
	}
}

type TenantDunningResult struct {
	TenantID           snowflake.ID `json:"tenant_id"`
	PartnerID          snowflake.ID `json:"partner_id"`
	PreviousLevel      int          `json:"previous_level"`
	DunningLevel       int          `json:"dunning_level"`
	MaxDaysOverdue     int          `json:"max_days_overdue"`
	OverdueCount       int          `json:"overdue_count"`
	ReadOnly           bool         `json:"read_only"`
	Blocked            bool         `json:"blocked"`
	SubscriptionStatus string       `json:"subscription_status,omitempty"`
	PartnerSuspended   bool         `json:"partner_suspended"`
}

// RunResult counts one dunning pass.
type RunResult struct {
	InvoicesMarkedOverdue int64 `json:"invoices_marked_overdue"`
	DunningApplied        int   `json:"dunning_applied"`
}

type SetPolicyRequest struct {
	PartnerID snowflake.ID `json:"-"`
	Policy    *Policy      `json:"policy"`
	ActorID   string       `json:"-"`
}

type Service interface {
	ComputeAccessState(ctx context.Context, partnerID snowflake.ID) (AccessState, error)
	Invalidate(partnerID snowflake.ID)
	ApplyDunningPolicy(ctx context.Context, tenantID snowflake.ID) (TenantDunningResult, error)
	RunDunning(ctx context.Context, targetDate time.Time) (RunResult, error)
	ReactivatePartners(ctx context.Context) (int, error)
	// SetPartnerPolicy stores a per-partner override; a nil policy restores the defaults.
	SetPartnerPolicy(ctx context.Context, req SetPolicyRequest) error
	// EffectiveDefaultPolicy validates and returns the configured global policy.
	EffectiveDefaultPolicy() (Policy, error)
}

var (
	ErrInvalidPolicy  = errors.New("invalid_dunning_policy")
	ErrInvalidPartner = errors.New("invalid_partner")
	ErrInvalidTenant  = errors.New("invalid_tenant")
)
