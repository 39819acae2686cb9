package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeOperator  ActorType = "operator"
	ActorTypeScheduler ActorType = "scheduler"
	ActorTypeProvider  ActorType = "provider"
)

const (
	ActionProrationRecorded   = "proration.recorded"
	ActionProrationWaived     = "proration.waived"
	ActionDunningApplied      = "dunning.applied"
	ActionDunningPolicyUpdate = "dunning.policy_updated"
	ActionPartnerReactivated  = "partner.reactivated"
	ActionEntitlementOverride = "entitlement.override"
	ActionAddonSubscribed     = "addon.subscribed"
	ActionAddonCanceled       = "addon.canceled"
	ActionCouponRedeemed      = "coupon.redeemed"
	ActionTrialEnded          = "subscription.trial_ended"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	PartnerID  *snowflake.ID     `gorm:"index" json:"partner_id,omitempty"`
	TenantID   *snowflake.ID     `gorm:"index" json:"tenant_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    string            `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   string            `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"not null" json:"metadata"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry is what callers hand to Record. Empty actor fields fall back to the
// actor on the context, then to system.
type Entry struct {
	PartnerID  *snowflake.ID
	TenantID   *snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListRequest struct {
	PartnerID *snowflake.ID
	TenantID  *snowflake.ID
	Action    string
	Limit     int
}

type Service interface {
	// Record writes an entry using tx when given so it commits with the change it describes.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidFilter = errors.New("invalid_filter")
)
