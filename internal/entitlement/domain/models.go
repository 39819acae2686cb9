// Package domain contains entitlement rows, values and resolution rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Unlimited is the conventional limit that always passes.
const Unlimited int64 = -1

// Source identifies where an entitlement row was materialised from.
type Source string

const (
	SourceManual    Source = "manual"
	SourcePromotion Source = "promotion"
	SourceAddon     Source = "addon"
	SourcePlan      Source = "plan"
	SourcePolicy    Source = "policy"
)

// Precedence ranks sources; higher wins.
func (s Source) Precedence() int {
	switch s {
	case SourceManual:
		return 4
	case SourcePromotion:
		return 3
	case SourceAddon:
		return 2
	case SourcePlan:
		return 1
	default:
		return 0
	}
}

// Value is the structured entitlement value. Limit is nil for pure feature flags.
type Value struct {
	Enabled bool   `json:"enabled"`
	Limit   *int64 `json:"limit,omitempty"`
}

func Flag(enabled bool) Value {
	return Value{Enabled: enabled}
}

func Limit(limit int64) Value {
	return Value{Enabled: true, Limit: &limit}
}

// Spec maps entitlement keys to values as stored on plans, add-ons and coupons.
type Spec map[string]Value

// TenantEntitlement is one materialised (tenant, key, source) row.
type TenantEntitlement struct {
	ID             snowflake.ID              `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID              `gorm:"not null;index:ix_tenant_entitlements_key,priority:1" json:"tenant_id"`
	EntitlementKey string                    `gorm:"type:text;not null;index:ix_tenant_entitlements_key,priority:2" json:"entitlement_key"`
	Value          datatypes.JSONType[Value] `gorm:"not null" json:"value"`
	Source         Source                    `gorm:"type:text;not null" json:"source"`
	SourceID       *snowflake.ID             `json:"source_id,omitempty"`
	EffectiveFrom  time.Time                 `gorm:"not null" json:"effective_from"`
	EffectiveUntil *time.Time                `json:"effective_until,omitempty"`
	CreatedAt      time.Time                 `gorm:"not null" json:"created_at"`
}

func (TenantEntitlement) TableName() string { return "tenant_entitlements" }

// EffectiveAt reports whether the row is valid at t.
func (e TenantEntitlement) EffectiveAt(t time.Time) bool {
	if t.Before(e.EffectiveFrom) {
		return false
	}
	if e.EffectiveUntil != nil && !t.Before(*e.EffectiveUntil) {
		return false
	}
	return true
}

// Override is an operator-set manual entitlement that survives rebuilds.
type Override struct {
	ID             snowflake.ID              `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID              `gorm:"not null;index" json:"tenant_id"`
	EntitlementKey string                    `gorm:"type:text;not null" json:"entitlement_key"`
	Value          datatypes.JSONType[Value] `gorm:"not null" json:"value"`
	EffectiveFrom  time.Time                 `gorm:"not null" json:"effective_from"`
	EffectiveUntil *time.Time                `json:"effective_until,omitempty"`
	Reason         string                    `gorm:"type:text" json:"reason"`
	CreatedBy      string                    `gorm:"type:text" json:"created_by"`
	CreatedAt      time.Time                 `gorm:"not null" json:"created_at"`
}

func (Override) TableName() string { return "entitlement_overrides" }
