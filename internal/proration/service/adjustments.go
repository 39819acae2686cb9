package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
	"gorm.io/gorm"
)

// InvoiceAdjustments folds pending proration records into the next invoice.
type InvoiceAdjustments struct {
	repo  prorationdomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func NewInvoiceAdjustments(repo prorationdomain.Repository, genID *snowflake.Node, clk clock.Clock) invoicedomain.AdjustmentSource {
	return &InvoiceAdjustments{repo: repo, genID: genID, clock: clk}
}

func (a *InvoiceAdjustments) Kind() invoicedomain.LineType {
	return invoicedomain.LineTypeProration
}

// PendingAdjustments returns pending records in creation order. A credit only
// takes what is left of subtotal; a credit that finds nothing left stays pending.
func (a *InvoiceAdjustments) PendingAdjustments(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, subtotal decimal.Decimal) ([]invoicedomain.Adjustment, error) {
	records, err := a.repo.ListPendingByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	running := subtotal
	out := make([]invoicedomain.Adjustment, 0, len(records))
	for _, r := range records {
		amount := r.NetAmount
		if amount.IsNegative() {
			if !running.IsPositive() {
				continue
			}
			if amount.Neg().GreaterThan(running) {
				amount = running.Neg()
			}
		}
		running = running.Add(amount)
		out = append(out, invoicedomain.Adjustment{
			Kind:        invoicedomain.LineTypeProration,
			ReferenceID: r.ID,
			Description: describe(r),
			Amount:      amount,
		})
	}
	return out, nil
}

// CommitAdjustments marks the records applied to invoice. The unused part of a
// partially applied credit moves to a new pending record.
func (a *InvoiceAdjustments) CommitAdjustments(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, adjustments []invoicedomain.Adjustment) error {
	pending, err := a.repo.ListPendingByTenant(ctx, tx, invoice.TenantID)
	if err != nil {
		return err
	}
	byID := lo.KeyBy(pending, func(r prorationdomain.ProrationRecord) snowflake.ID { return r.ID })

	now := a.clock.Now()
	ids := lo.Map(adjustments, func(adj invoicedomain.Adjustment, _ int) snowflake.ID { return adj.ReferenceID })
	updated, err := a.repo.MarkApplied(ctx, tx, ids, invoice.ID, now)
	if err != nil {
		return err
	}
	if updated != int64(len(ids)) {
		return fmt.Errorf("proration records changed concurrently: applied %d of %d", updated, len(ids))
	}

	for _, adj := range adjustments {
		record, ok := byID[adj.ReferenceID]
		if !ok {
			return fmt.Errorf("proration record %s no longer pending", adj.ReferenceID)
		}
		remainder := record.NetAmount.Sub(adj.Amount)
		if remainder.IsZero() {
			continue
		}
		if err := a.repo.Insert(ctx, tx, carryForward(a.genID.Generate(), &record, remainder, now)); err != nil {
			return err
		}
	}
	return nil
}

// carryForward queues amount as a new pending record that points back at from.
func carryForward(id snowflake.ID, from *prorationdomain.ProrationRecord, amount decimal.Decimal, now time.Time) *prorationdomain.ProrationRecord {
	fromID := from.ID
	record := &prorationdomain.ProrationRecord{
		ID:              id,
		TenantID:        from.TenantID,
		SubscriptionID:  from.SubscriptionID,
		FromPlanID:      from.FromPlanID,
		ToPlanID:        from.ToPlanID,
		FromAmount:      from.FromAmount,
		ToAmount:        from.ToAmount,
		DaysRemaining:   from.DaysRemaining,
		DaysInCycle:     from.DaysInCycle,
		ProrationCredit: decimal.Zero,
		ProrationCharge: decimal.Zero,
		NetAmount:       amount,
		Status:          prorationdomain.StatusPending,
		CarriedFromID:   &fromID,
		CreatedAt:       now,
	}
	if amount.IsNegative() {
		record.ProrationCredit = amount.Neg()
	} else {
		record.ProrationCharge = amount
	}
	return record
}

func describe(r prorationdomain.ProrationRecord) string {
	if r.CarriedFromID != nil && r.NetAmount.IsNegative() {
		return "Plan change credit carried forward"
	}
	return fmt.Sprintf("Plan change proration (%d of %d days)", r.DaysRemaining, r.DaysInCycle)
}
