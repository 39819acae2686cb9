package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	"github.com/smallbiznis/partnerbilling/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WebhookParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Reconciler paymentdomain.Reconciler
	Metrics    *metrics.Metrics `optional:"true"`
}

type Webhook struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	reconciler paymentdomain.Reconciler
	metrics    *metrics.Metrics
	adapters   map[string]paymentdomain.PaymentAdapter
}

func NewWebhook(p WebhookParams) (paymentdomain.Webhook, error) {
	log := p.Log.Named("payment.webhook")
	configured := map[string]map[string]any{
		"asaas":  {"access_token": p.Cfg.Payments.AsaasWebhookToken},
		"stripe": {"webhook_secret": p.Cfg.Payments.StripeWebhookSecret},
	}

	built := make(map[string]paymentdomain.PaymentAdapter, len(configured))
	for provider, values := range configured {
		adapter, err := p.Adapters.NewAdapter(provider, paymentdomain.AdapterConfig{Provider: provider, Config: values})
		if errors.Is(err, paymentdomain.ErrInvalidConfig) {
			log.Info("payment provider not configured", zap.String("provider", provider))
			continue
		}
		if err != nil {
			return nil, err
		}
		built[provider] = adapter
	}

	return &Webhook{
		db:         p.DB,
		log:        log,
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		reconciler: p.Reconciler,
		metrics:    p.Metrics,
		adapters:   built,
	}, nil
}

// Ingest verifies, stores and applies one provider webhook delivery.
func (w *Webhook) Ingest(ctx context.Context, provider string, headers http.Header, body []byte) (paymentdomain.ApplyResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ApplyResult{}, paymentdomain.ErrInvalidProvider
	}
	adapter, ok := w.adapters[provider]
	if !ok {
		return paymentdomain.ApplyResult{}, paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(body) {
		return paymentdomain.ApplyResult{}, paymentdomain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, body, headers); err != nil {
		w.metrics.RecordWebhookEvent(ctx, provider, "", "rejected")
		return paymentdomain.ApplyResult{}, err
	}

	event, err := adapter.Parse(ctx, body)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			w.metrics.RecordWebhookEvent(ctx, provider, "", "ignored")
		}
		return paymentdomain.ApplyResult{}, err
	}

	now := w.clock.Now()
	record := &paymentdomain.EventRecord{
		ID:                w.genID.Generate(),
		Provider:          provider,
		ProviderEventID:   event.ProviderEventID,
		EventType:         event.Type,
		ProviderPaymentID: event.ProviderPaymentID,
		Payload:           datatypes.JSON(body),
		ReceivedAt:        now,
	}
	inserted, err := w.repo.InsertEvent(ctx, w.db, record)
	if err != nil {
		return paymentdomain.ApplyResult{}, err
	}
	if !inserted {
		stored, err := w.repo.FindEvent(ctx, w.db, provider, event.ProviderEventID)
		if err != nil {
			return paymentdomain.ApplyResult{}, err
		}
		if stored == nil {
			return paymentdomain.ApplyResult{}, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			w.metrics.RecordWebhookEvent(ctx, provider, event.Type, "duplicate")
			return paymentdomain.ApplyResult{}, paymentdomain.ErrEventAlreadyProcessed
		}
		// an earlier delivery was stored but failed before it was applied
		record = stored
	}

	result, err := w.reconciler.ApplyEvent(ctx, event.Type, event.ProviderPaymentID)
	if err != nil {
		w.metrics.RecordWebhookEvent(ctx, provider, event.Type, "failed")
		return paymentdomain.ApplyResult{}, err
	}
	if err := w.repo.MarkProcessed(ctx, w.db, record.ID, w.clock.Now()); err != nil {
		return paymentdomain.ApplyResult{}, err
	}

	w.metrics.RecordWebhookEvent(ctx, provider, event.Type, "processed")
	w.log.Info("payment.webhook.processed",
		zap.String("provider", provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
		zap.Bool("found", result.Found),
		zap.Bool("changed", result.Changed),
	)
	return result, nil
}
