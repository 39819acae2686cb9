package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusWaived  Status = "waived"
)

// ProrationRecord is the financial trace of one mid-cycle plan change.
// Records with CarriedFromID hold an amount that an earlier record could not
// settle on its own invoice.
type ProrationRecord struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID        snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID  snowflake.ID    `gorm:"not null;index" json:"subscription_id"`
	FromPlanID      *snowflake.ID   `json:"from_plan_id,omitempty"`
	ToPlanID        snowflake.ID    `gorm:"not null" json:"to_plan_id"`
	FromAmount      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"from_amount"`
	ToAmount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"to_amount"`
	DaysRemaining   int             `gorm:"not null" json:"days_remaining"`
	DaysInCycle     int             `gorm:"not null" json:"days_in_cycle"`
	ProrationCredit decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"proration_credit"`
	ProrationCharge decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"proration_charge"`
	NetAmount       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"net_amount"`
	Status          Status          `gorm:"type:text;not null;index" json:"status"`
	InvoiceID       *snowflake.ID   `json:"invoice_id,omitempty"`
	CarriedFromID   *snowflake.ID   `gorm:"index" json:"carried_from_id,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	AppliedAt       *time.Time      `json:"applied_at,omitempty"`
}

func (ProrationRecord) TableName() string { return "proration_records" }

// Amounts is the money side of a proration.
type Amounts struct {
	DaysRemaining int             `json:"days_remaining"`
	DaysInCycle   int             `json:"days_in_cycle"`
	Credit        decimal.Decimal `json:"proration_credit"`
	Charge        decimal.Decimal `json:"proration_charge"`
	Net           decimal.Decimal `json:"net_amount"`
}

// Calculation previews a plan change for a tenant.
type Calculation struct {
	Amounts
	TenantID       snowflake.ID    `json:"tenant_id"`
	SubscriptionID snowflake.ID    `json:"subscription_id"`
	FromPlanID     *snowflake.ID   `json:"from_plan_id,omitempty"`
	ToPlanID       snowflake.ID    `json:"to_plan_id"`
	FromAmount     decimal.Decimal `json:"from_amount"`
	ToAmount       decimal.Decimal `json:"to_amount"`
	Currency       string          `json:"currency"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
}
