package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Adjustment is a pending charge, credit or discount folded into the next invoice.
// Coupon adjustments carry a positive Amount that is subtracted as a discount.
type Adjustment struct {
	Kind        LineType
	ReferenceID snowflake.ID
	Description string
	Amount      decimal.Decimal
}

// AdjustmentSource supplies adjustments for a tenant's next invoice and marks
// them consumed once that invoice exists. Both calls run in the invoice transaction.
type AdjustmentSource interface {
	Kind() LineType
	PendingAdjustments(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, subtotal decimal.Decimal) ([]Adjustment, error)
	CommitAdjustments(ctx context.Context, tx *gorm.DB, invoice *Invoice, adjustments []Adjustment) error
}

// Subtotal is base plus every non-coupon adjustment, unclamped.
func Subtotal(base decimal.Decimal, adjustments []Adjustment) decimal.Decimal {
	subtotal := base
	for _, adj := range adjustments {
		if adj.Kind != LineTypeCoupon {
			subtotal = subtotal.Add(adj.Amount)
		}
	}
	return subtotal
}

// Totals folds base and adjustments into invoice amounts.
// Negative subtotals are clamped to zero.
func Totals(base decimal.Decimal, adjustments []Adjustment) (subtotal, discount, amount decimal.Decimal) {
	subtotal = Subtotal(base, adjustments)
	discount = decimal.Zero
	for _, adj := range adjustments {
		if adj.Kind == LineTypeCoupon {
			discount = discount.Add(adj.Amount)
		}
	}
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	amount = subtotal.Sub(discount)
	return subtotal, discount, amount
}
