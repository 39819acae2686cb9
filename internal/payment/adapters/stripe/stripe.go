package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const provider = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := cfg.Config["webhook_secret"].(string)
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the Stripe-Signature header against the endpoint secret.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

var canonicalTypes = map[stripego.EventType]string{
	stripego.EventTypePaymentIntentSucceeded:     paymentdomain.EventPaymentConfirmed,
	stripego.EventTypeChargeSucceeded:            paymentdomain.EventPaymentReceived,
	stripego.EventTypePaymentIntentPaymentFailed: paymentdomain.EventPaymentOverdue,
	stripego.EventTypeChargeRefunded:             paymentdomain.EventPaymentRefunded,
	stripego.EventTypeChargeDisputeCreated:       paymentdomain.EventPaymentChargebackRequested,
}

// stripeObject holds the fields shared by payment intents, charges and
// disputes that identify the underlying payment.
type stripeObject struct {
	ID            string          `json:"id"`
	Object        string          `json:"object"`
	Created       int64           `json:"created"`
	PaymentIntent json.RawMessage `json:"payment_intent"`
	Charge        json.RawMessage `json:"charge"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventType, ok := canonicalTypes[event.Type]
	if !ok {
		return nil, paymentdomain.ErrEventIgnored
	}

	var object stripeObject
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	paymentID := paymentIDFor(object)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:          provider,
		ProviderEventID:   event.ID,
		ProviderPaymentID: paymentID,
		Type:              eventType,
		OccurredAt:        occurredAt(object.Created, event.Created),
		RawPayload:        payload,
	}, nil
}

// paymentIDFor prefers the payment intent, then the charge a dispute points
// at, then the object itself.
func paymentIDFor(object stripeObject) string {
	if id := expandableID(object.PaymentIntent); id != "" {
		return id
	}
	if object.Object == "dispute" {
		if id := expandableID(object.Charge); id != "" {
			return id
		}
	}
	return strings.TrimSpace(object.ID)
}

// expandableID reads a Stripe reference that is either an id string or an
// expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err == nil {
		return strings.TrimSpace(expanded.ID)
	}
	return ""
}

func occurredAt(objectCreated, eventCreated int64) time.Time {
	if objectCreated > 0 {
		return time.Unix(objectCreated, 0).UTC()
	}
	if eventCreated > 0 {
		return time.Unix(eventCreated, 0).UTC()
	}
	return time.Now().UTC()
}
