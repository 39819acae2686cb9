package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type GenerateRequest struct {
	TenantID       snowflake.ID `json:"tenant_id"`
	SubscriptionID snowflake.ID `json:"subscription_id"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
}

type GenerateResult struct {
	InvoiceID  snowflake.ID `json:"invoice_id"`
	Idempotent bool         `json:"idempotent"`
}

// DueResult counts the work of one invoice generation pass.
type DueResult struct {
	InvoicesCreated    int `json:"invoices_created"`
	InvoicesIdempotent int `json:"invoices_idempotent"`
	PeriodsAdvanced    int `json:"periods_advanced"`
}

type InvoiceDetail struct {
	Invoice
	Lines []InvoiceLine `json:"lines"`
}

// RepriceRequest moves the invoice a tenant was already issued for the period
// starting at PeriodStart onto a new subscription base amount.
type RepriceRequest struct {
	TenantID    snowflake.ID
	PeriodStart time.Time
	Base        decimal.Decimal
}

type RepriceResult struct {
	InvoiceID   snowflake.ID
	Found       bool
	Repriced    bool
	PeriodStart time.Time
	PeriodEnd   time.Time
	// Unabsorbed is the credit left over when the new subtotal went below zero.
	// It is zero or negative.
	Unabsorbed decimal.Decimal
}

// Repricer rewrites an issued invoice inside the caller's transaction. Only
// pending invoices without a provider payment are repriced.
type Repricer interface {
	RepriceUpcoming(ctx context.Context, tx *gorm.DB, req RepriceRequest) (RepriceResult, error)
}

type Service interface {
	Repricer
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	GenerateDue(ctx context.Context, targetDate time.Time, lookaheadDays int) (DueResult, error)
	MarkOverdue(ctx context.Context, targetDate time.Time) (int64, error)
	AttachProviderPayment(ctx context.Context, invoiceID snowflake.ID, providerPaymentID string) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*InvoiceDetail, error)
	ListByTenant(ctx context.Context, tenantID snowflake.ID) ([]Invoice, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertLines(ctx context.Context, db *gorm.DB, lines []InvoiceLine) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByKey(ctx context.Context, db *gorm.DB, key Key) (*Invoice, error)
	FindByProviderPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*Invoice, error)
	FindByProviderPaymentIDForUpdate(ctx context.Context, db *gorm.DB, providerPaymentID string) (*Invoice, error)
	FindByPeriodStartForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodStart time.Time) (*Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLine, error)
	UpdateLineAmount(ctx context.Context, db *gorm.DB, lineID snowflake.ID, amount decimal.Decimal) error
	UpdateTotals(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	// ListOverdue returns invoices of the tenants that are overdue as of asOf:
	// status overdue, or pending with a due date before asOf.
	ListOverdue(ctx context.Context, db *gorm.DB, tenantIDs []snowflake.ID, asOf time.Time) ([]Invoice, error)
	CountOpen(ctx context.Context, db *gorm.DB, tenantIDs []snowflake.ID) (int64, error)
	ListTenantsWithOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) ([]snowflake.ID, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to InvoiceStatus, paidAt *time.Time, now time.Time) (bool, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, targetDate time.Time, now time.Time) (int64, error)
	SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, now time.Time) error
	CancelOpenBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) (int64, error)
}

var (
	ErrInvalidPeriod            = errors.New("invalid_period")
	ErrInvalidTenant            = errors.New("invalid_tenant")
	ErrInvoiceNotFound          = errors.New("invoice_not_found")
	ErrProviderPaymentConflict  = errors.New("provider_payment_conflict")
	ErrInvalidProviderPaymentID = errors.New("invalid_provider_payment_id")
)
