package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
)

const (
	provider    = "asaas"
	tokenHeader = "asaas-access-token"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	token, ok := cfg.Config["access_token"].(string)
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{accessToken: token}, nil
}

// Adapter authenticates Asaas webhooks with the shared access token the
// account configures on its webhook endpoint.
type Adapter struct {
	accessToken string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	got := strings.TrimSpace(headers.Get(tokenHeader))
	if got == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.accessToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type asaasEvent struct {
	ID          string       `json:"id"`
	Event       string       `json:"event"`
	DateCreated string       `json:"dateCreated"`
	Payment     asaasPayment `json:"payment"`
}

type asaasPayment struct {
	ID string `json:"id"`
}

// Asaas event names already match the canonical vocabulary.
var supported = map[string]struct{}{
	paymentdomain.EventPaymentConfirmed:           {},
	paymentdomain.EventPaymentReceived:            {},
	paymentdomain.EventPaymentOverdue:             {},
	paymentdomain.EventPaymentRefunded:            {},
	paymentdomain.EventPaymentChargebackRequested: {},
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event asaasEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.ToUpper(strings.TrimSpace(event.Event))
	if _, ok := supported[eventType]; !ok {
		return nil, paymentdomain.ErrEventIgnored
	}

	eventID := strings.TrimSpace(event.ID)
	paymentID := strings.TrimSpace(event.Payment.ID)
	if eventID == "" || paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:          provider,
		ProviderEventID:   eventID,
		ProviderPaymentID: paymentID,
		Type:              eventType,
		OccurredAt:        parseCreated(event.DateCreated),
		RawPayload:        payload,
	}, nil
}

func parseCreated(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
