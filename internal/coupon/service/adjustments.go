package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"gorm.io/gorm"
)

// InvoiceAdjustments turns queued coupons into invoice discounts and records
// the redemption once the invoice exists.
type InvoiceAdjustments struct {
	repo  coupondomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func NewInvoiceAdjustments(repo coupondomain.Repository, genID *snowflake.Node, clk clock.Clock) invoicedomain.AdjustmentSource {
	return &InvoiceAdjustments{repo: repo, genID: genID, clock: clk}
}

func (a *InvoiceAdjustments) Kind() invoicedomain.LineType {
	return invoicedomain.LineTypeCoupon
}

// PendingAdjustments discounts queued coupons in queue order. Each coupon
// applies to what the previous ones left of subtotal.
func (a *InvoiceAdjustments) PendingAdjustments(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, subtotal decimal.Decimal) ([]invoicedomain.Adjustment, error) {
	queued, err := a.repo.ListPendingByTenant(ctx, tx, tenantID)
	if err != nil || len(queued) == 0 {
		return nil, err
	}
	coupons, err := a.repo.FindByIDs(ctx, tx, lo.Uniq(lo.Map(queued, func(p coupondomain.PendingCoupon, _ int) snowflake.ID {
		return p.CouponID
	})))
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(coupons, func(c coupondomain.Coupon) snowflake.ID { return c.ID })

	remaining := subtotal
	out := make([]invoicedomain.Adjustment, 0, len(queued))
	for _, pending := range queued {
		coupon, ok := byID[pending.CouponID]
		if !ok {
			continue
		}
		discount := coupon.Discount(remaining)
		remaining = remaining.Sub(discount)
		out = append(out, invoicedomain.Adjustment{
			Kind:        invoicedomain.LineTypeCoupon,
			ReferenceID: pending.ID,
			Description: fmt.Sprintf("Coupon %s", coupon.Code),
			Amount:      discount,
		})
	}
	return out, nil
}

func (a *InvoiceAdjustments) CommitAdjustments(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, adjustments []invoicedomain.Adjustment) error {
	queued, err := a.repo.ListPendingByTenant(ctx, tx, invoice.TenantID)
	if err != nil {
		return err
	}
	byID := lo.KeyBy(queued, func(p coupondomain.PendingCoupon) snowflake.ID { return p.ID })

	now := a.clock.Now()
	for _, adj := range adjustments {
		pending, ok := byID[adj.ReferenceID]
		if !ok {
			return fmt.Errorf("pending coupon %s no longer queued", adj.ReferenceID)
		}
		if _, err := a.repo.InsertRedemption(ctx, tx, &coupondomain.Redemption{
			ID:             a.genID.Generate(),
			CouponID:       pending.CouponID,
			TenantID:       pending.TenantID,
			InvoiceID:      invoice.ID,
			DiscountAmount: adj.Amount,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if _, err := a.repo.MarkConsumed(ctx, tx, pending.ID, now); err != nil {
			return err
		}
	}
	return nil
}
