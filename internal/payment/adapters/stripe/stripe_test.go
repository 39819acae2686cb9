package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","object":"event","type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`)
	timestamp := time.Now().Unix()

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, timestamp))

	adapter := &Adapter{webhookSecret: secret}
	require.NoError(t, adapter.Verify(context.Background(), payload, reqHeader))

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: "stripe", Config: map[string]any{"webhook_secret": " "}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: "stripe", Config: map[string]any{"webhook_secret": "whsec"}})
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestParsePaymentEvent(t *testing.T) {
	created := time.Now().UTC().Unix()

	tests := []struct {
		name       string
		eventType  string
		object     map[string]any
		wantType   string
		wantPayID  string
		wantIgnore bool
	}{
		{
			name:      "payment_intent.succeeded",
			eventType: "payment_intent.succeeded",
			object:    map[string]any{"id": "pi_1", "object": "payment_intent", "created": created},
			wantType:  paymentdomain.EventPaymentConfirmed,
			wantPayID: "pi_1",
		},
		{
			name:      "charge.succeeded uses payment intent",
			eventType: "charge.succeeded",
			object:    map[string]any{"id": "ch_1", "object": "charge", "payment_intent": "pi_2"},
			wantType:  paymentdomain.EventPaymentReceived,
			wantPayID: "pi_2",
		},
		{
			name:      "payment_intent.payment_failed",
			eventType: "payment_intent.payment_failed",
			object:    map[string]any{"id": "pi_3", "object": "payment_intent"},
			wantType:  paymentdomain.EventPaymentOverdue,
			wantPayID: "pi_3",
		},
		{
			name:      "charge.refunded without intent",
			eventType: "charge.refunded",
			object:    map[string]any{"id": "ch_4", "object": "charge"},
			wantType:  paymentdomain.EventPaymentRefunded,
			wantPayID: "ch_4",
		},
		{
			name:      "charge.dispute.created",
			eventType: "charge.dispute.created",
			object:    map[string]any{"id": "dp_5", "object": "dispute", "charge": "ch_5"},
			wantType:  paymentdomain.EventPaymentChargebackRequested,
			wantPayID: "ch_5",
		},
		{
			name:       "unrelated event",
			eventType:  "customer.created",
			object:     map[string]any{"id": "cus_1", "object": "customer"},
			wantIgnore: true,
		},
	}

	adapter := &Adapter{webhookSecret: "whsec_test"}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := json.Marshal(map[string]any{
				"id":      "evt_" + tc.name,
				"object":  "event",
				"type":    tc.eventType,
				"created": created,
				"data":    map[string]any{"object": tc.object},
			})
			require.NoError(t, err)

			event, err := adapter.Parse(context.Background(), payload)
			if tc.wantIgnore {
				assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "stripe", event.Provider)
			assert.Equal(t, tc.wantType, event.Type)
			assert.Equal(t, tc.wantPayID, event.ProviderPaymentID)
			assert.Equal(t, "evt_"+tc.name, event.ProviderEventID)
		})
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	adapter := &Adapter{webhookSecret: "whsec_test"}
	_, err := adapter.Parse(context.Background(), []byte(`{"type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
