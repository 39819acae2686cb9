package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"gorm.io/datatypes"
)

// Canonical provider lifecycle events. Adapters translate provider payloads
// into one of these.
const (
	EventPaymentConfirmed           = "PAYMENT_CONFIRMED"
	EventPaymentReceived            = "PAYMENT_RECEIVED"
	EventPaymentOverdue             = "PAYMENT_OVERDUE"
	EventPaymentRefunded            = "PAYMENT_REFUNDED"
	EventPaymentChargebackRequested = "PAYMENT_CHARGEBACK_REQUESTED"
)

var eventStatus = map[string]invoicedomain.InvoiceStatus{
	EventPaymentConfirmed:           invoicedomain.InvoiceStatusPaid,
	EventPaymentReceived:            invoicedomain.InvoiceStatusPaid,
	EventPaymentOverdue:             invoicedomain.InvoiceStatusOverdue,
	EventPaymentRefunded:            invoicedomain.InvoiceStatusRefunded,
	EventPaymentChargebackRequested: invoicedomain.InvoiceStatusChargeback,
}

// TargetStatus maps a canonical event to the invoice status it asserts.
func TargetStatus(eventType string) (invoicedomain.InvoiceStatus, bool) {
	status, ok := eventStatus[eventType]
	return status, ok
}

// EventRecord is a received provider event, unique per provider event id.
type EventRecord struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider          string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1" json:"provider"`
	ProviderEventID   string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2" json:"provider_event_id"`
	EventType         string         `gorm:"type:text;not null" json:"event_type"`
	ProviderPaymentID string         `gorm:"type:text;index" json:"provider_payment_id"`
	Payload           datatypes.JSON `gorm:"not null" json:"payload"`
	ReceivedAt        time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

// PaymentEvent is the canonical event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	OccurredAt        time.Time
	RawPayload        []byte
}

type ApplyResult struct {
	InvoiceID *snowflake.ID               `json:"invoice_id,omitempty"`
	NewStatus invoicedomain.InvoiceStatus `json:"status,omitempty"`
	Found     bool                        `json:"found"`
	Changed   bool                        `json:"changed"`
}
