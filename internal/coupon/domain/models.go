package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	"gorm.io/datatypes"
)

type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

type PendingStatus string

const (
	PendingStatusPending  PendingStatus = "pending"
	PendingStatusConsumed PendingStatus = "consumed"
)

type Coupon struct {
	ID             snowflake.ID                       `gorm:"primaryKey" json:"id"`
	PartnerID      *snowflake.ID                      `gorm:"index" json:"partner_id,omitempty"`
	Code           string                             `gorm:"type:text;not null;uniqueIndex" json:"code"`
	DiscountType   DiscountType                       `gorm:"type:text;not null" json:"discount_type"`
	DiscountValue  decimal.Decimal                    `gorm:"type:numeric(18,2);not null" json:"discount_value"`
	Entitlements   datatypes.JSONType[entdomain.Spec] `gorm:"not null" json:"entitlements"`
	PromotionDays  int                                `gorm:"not null;default:0" json:"promotion_days"`
	ValidFrom      *time.Time                         `json:"valid_from,omitempty"`
	ValidUntil     *time.Time                         `json:"valid_until,omitempty"`
	MaxRedemptions int                                `gorm:"not null;default:0" json:"max_redemptions"`
	Active         bool                               `gorm:"not null" json:"active"`
}

func (Coupon) TableName() string { return "coupons" }

// Discount returns the discount this coupon grants on subtotal, capped at subtotal.
func (c Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountTypePercent:
		discount = subtotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	default:
		discount = c.DiscountValue
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// RedeemableAt reports whether the coupon's active flag and window allow use at t.
func (c Coupon) RedeemableAt(t time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && !t.Before(*c.ValidUntil) {
		return false
	}
	return true
}

// PendingCoupon queues a coupon until the tenant's next invoice consumes it.
type PendingCoupon struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID  `gorm:"not null;uniqueIndex:ux_pending_coupons_tenant_coupon,priority:1" json:"tenant_id"`
	CouponID   snowflake.ID  `gorm:"not null;uniqueIndex:ux_pending_coupons_tenant_coupon,priority:2" json:"coupon_id"`
	Status     PendingStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt  time.Time     `gorm:"not null" json:"created_at"`
	ConsumedAt *time.Time    `json:"consumed_at,omitempty"`
}

func (PendingCoupon) TableName() string { return "pending_coupons" }

// Redemption is an append-only ledger row.
type Redemption struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	CouponID       snowflake.ID    `gorm:"not null;uniqueIndex:ux_coupon_redemptions_coupon_invoice,priority:1" json:"coupon_id"`
	TenantID       snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_coupon_redemptions_coupon_invoice,priority:2" json:"invoice_id"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"discount_amount"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (Redemption) TableName() string { return "coupon_redemptions" }

// Promotion is a coupon-granted entitlement window for one tenant.
type Promotion struct {
	CouponID     snowflake.ID
	Entitlements entdomain.Spec
	From         time.Time
	Until        time.Time
}
