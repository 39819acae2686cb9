package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

// Insert reports false when an invoice for the same tenant and period already exists.
func (r *repo) Insert(ctx context.Context, conn *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	return db.InsertIgnore(conn.WithContext(ctx), invoice, "tenant_id", "period_start", "period_end")
}

func (r *repo) InsertLines(ctx context.Context, conn *gorm.DB, lines []invoicedomain.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Create(&lines).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return first(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByKey(ctx context.Context, conn *gorm.DB, key invoicedomain.Key) (*invoicedomain.Invoice, error) {
	return first(conn.WithContext(ctx).
		Where("tenant_id = ? AND period_start = ? AND period_end = ?", key.TenantID, key.PeriodStart, key.PeriodEnd))
}

func (r *repo) FindByProviderPaymentID(ctx context.Context, conn *gorm.DB, providerPaymentID string) (*invoicedomain.Invoice, error) {
	return first(conn.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID))
}

func (r *repo) FindByProviderPaymentIDForUpdate(ctx context.Context, conn *gorm.DB, providerPaymentID string) (*invoicedomain.Invoice, error) {
	return first(db.ForUpdate(conn.WithContext(ctx)).Where("provider_payment_id = ?", providerPaymentID))
}

func (r *repo) FindByPeriodStartForUpdate(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, periodStart time.Time) (*invoicedomain.Invoice, error) {
	return first(db.ForUpdate(conn.WithContext(ctx)).
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		Order("id"))
}

func first(query *gorm.DB) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := query.First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) ListLines(ctx context.Context, conn *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceLine, error) {
	var lines []invoicedomain.InvoiceLine
	if err := conn.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("id").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) UpdateLineAmount(ctx context.Context, conn *gorm.DB, lineID snowflake.ID, amount decimal.Decimal) error {
	return conn.WithContext(ctx).Model(&invoicedomain.InvoiceLine{}).
		Where("id = ?", lineID).
		Update("amount", amount).Error
}

// UpdateTotals rewrites the amounts of a pending invoice. It reports false when
// the invoice left pending in the meantime.
func (r *repo) UpdateTotals(ctx context.Context, conn *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	updates := map[string]any{
		"subtotal":        invoice.Subtotal,
		"discount_amount": invoice.DiscountAmount,
		"amount":          invoice.Amount,
		"status":          invoice.Status,
		"updated_at":      invoice.UpdatedAt,
	}
	if invoice.PaidAt != nil {
		updates["paid_at"] = *invoice.PaidAt
	}
	res := conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status = ?", invoice.ID, invoicedomain.InvoiceStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListOverdue(ctx context.Context, conn *gorm.DB, tenantIDs []snowflake.ID, asOf time.Time) ([]invoicedomain.Invoice, error) {
	if len(tenantIDs) == 0 {
		return nil, nil
	}
	var invoices []invoicedomain.Invoice
	err := conn.WithContext(ctx).
		Where("tenant_id IN ?", tenantIDs).
		Where("(status = ? OR (status = ? AND due_date < ?))",
			invoicedomain.InvoiceStatusOverdue,
			invoicedomain.InvoiceStatusPending,
			asOf,
		).
		Order("due_date, id").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) CountOpen(ctx context.Context, conn *gorm.DB, tenantIDs []snowflake.ID) (int64, error) {
	if len(tenantIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("tenant_id IN ? AND status IN ?", tenantIDs, invoicedomain.OpenStatuses).
		Count(&count).Error
	return count, err
}

func (r *repo) ListTenantsWithOverdue(ctx context.Context, conn *gorm.DB, asOf time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Distinct("tenant_id").
		Where("(status = ? OR (status = ? AND due_date < ?))",
			invoicedomain.InvoiceStatusOverdue,
			invoicedomain.InvoiceStatusPending,
			asOf,
		).
		Order("tenant_id").
		Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to invoicedomain.InvoiceStatus, paidAt *time.Time, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	res := conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkOverdue(ctx context.Context, conn *gorm.DB, targetDate time.Time, now time.Time) (int64, error) {
	res := conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("status = ? AND due_date < ?", invoicedomain.InvoiceStatusPending, targetDate).
		Updates(map[string]any{
			"status":     invoicedomain.InvoiceStatusOverdue,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) SetProviderPaymentID(ctx context.Context, conn *gorm.DB, id snowflake.ID, providerPaymentID string, now time.Time) error {
	return conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_payment_id": providerPaymentID,
			"updated_at":          now,
		}).Error
}

func (r *repo) CancelOpenBySubscription(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, now time.Time) (int64, error) {
	res := conn.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("subscription_id = ? AND status IN ?", subscriptionID, invoicedomain.OpenStatuses).
		Updates(map[string]any{
			"status":     invoicedomain.InvoiceStatusCanceled,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
