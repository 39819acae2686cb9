package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Reconciler interface {
	ApplyEvent(ctx context.Context, eventType, providerPaymentID string) (ApplyResult, error)
}

type Webhook interface {
	Ingest(ctx context.Context, provider string, headers http.Header, body []byte) (ApplyResult, error)
}

// AccessStateInvalidator drops cached partner access state after invoice writes.
type AccessStateInvalidator interface {
	Invalidate(partnerID snowflake.ID)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

var (
	ErrUnsupportedEventType  = errors.New("unsupported_event_type")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
)
