// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusPaid       InvoiceStatus = "paid"
	InvoiceStatusOverdue    InvoiceStatus = "overdue"
	InvoiceStatusCanceled   InvoiceStatus = "canceled"
	InvoiceStatusRefunded   InvoiceStatus = "refunded"
	InvoiceStatusChargeback InvoiceStatus = "chargeback"
)

// OpenStatuses are the statuses that still expect a payment.
var OpenStatuses = []InvoiceStatus{InvoiceStatusPending, InvoiceStatusOverdue}

// LineType classifies invoice lines.
type LineType string

const (
	LineTypeSubscription LineType = "subscription"
	LineTypeProration    LineType = "proration"
	LineTypeCoupon       LineType = "coupon"
)

// Invoice represents one billing period charge of a tenant.
type Invoice struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoices_tenant_period,priority:1" json:"tenant_id"`
	PartnerID         snowflake.ID    `gorm:"not null;index" json:"partner_id"`
	SubscriptionID    snowflake.ID    `gorm:"not null;index" json:"subscription_id"`
	PeriodStart       time.Time       `gorm:"not null;uniqueIndex:ux_invoices_tenant_period,priority:2" json:"period_start"`
	PeriodEnd         time.Time       `gorm:"not null;uniqueIndex:ux_invoices_tenant_period,priority:3" json:"period_end"`
	Subtotal          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"subtotal"`
	DiscountAmount    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"discount_amount"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency          string          `gorm:"type:text;not null" json:"currency"`
	DueDate           time.Time       `gorm:"not null;index" json:"due_date"`
	Status            InvoiceStatus   `gorm:"type:text;not null;index" json:"status"`
	ProviderPaymentID *string         `gorm:"type:text;uniqueIndex" json:"provider_payment_id,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine represents a line on an invoice.
type InvoiceLine struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	LineType    LineType        `gorm:"type:text;not null" json:"line_type"`
	Description string          `gorm:"type:text" json:"description"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	ReferenceID *snowflake.ID   `json:"reference_id,omitempty"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// Key identifies the billing period an invoice covers.
type Key struct {
	TenantID    snowflake.ID
	PeriodStart time.Time
	PeriodEnd   time.Time
}
