package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReconcilerParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	InvoiceRepo invoicedomain.Repository
	Invalidator paymentdomain.AccessStateInvalidator
	Metrics     *metrics.BillingMetrics `optional:"true"`
}

type Reconciler struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	invoices    invoicedomain.Repository
	invalidator paymentdomain.AccessStateInvalidator
	metrics     *metrics.BillingMetrics
}

func NewReconciler(p ReconcilerParams) paymentdomain.Reconciler {
	return &Reconciler{
		db:          p.DB,
		log:         p.Log.Named("payment.reconciler"),
		clock:       p.Clock,
		invoices:    p.InvoiceRepo,
		invalidator: p.Invalidator,
		metrics:     p.Metrics,
	}
}

// ApplyEvent moves the invoice linked to providerPaymentID to the status the
// event asserts. Replays and events older than the current status are no-ops.
func (r *Reconciler) ApplyEvent(ctx context.Context, eventType, providerPaymentID string) (paymentdomain.ApplyResult, error) {
	eventType = strings.ToUpper(strings.TrimSpace(eventType))
	target, ok := paymentdomain.TargetStatus(eventType)
	if !ok {
		return paymentdomain.ApplyResult{}, paymentdomain.ErrUnsupportedEventType
	}
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return paymentdomain.ApplyResult{}, paymentdomain.ErrInvalidEvent
	}

	var (
		result    paymentdomain.ApplyResult
		partnerID snowflake.ID
		outcome   string
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := r.invoices.FindByProviderPaymentIDForUpdate(ctx, tx, providerPaymentID)
		if err != nil {
			return err
		}
		if invoice == nil {
			outcome = metrics.PaymentEventUnknownPayment
			return nil
		}

		invoiceID := invoice.ID
		result = paymentdomain.ApplyResult{InvoiceID: &invoiceID, NewStatus: invoice.Status, Found: true}
		partnerID = invoice.PartnerID

		if invoice.Status == target {
			outcome = metrics.PaymentEventNoop
			return nil
		}
		if !invoice.Status.CanTransitionTo(target) {
			outcome = metrics.PaymentEventStale
			return nil
		}

		now := r.clock.Now()
		var paidAt *time.Time
		if target == invoicedomain.InvoiceStatusPaid {
			paidAt = &now
		}
		updated, err := r.invoices.UpdateStatus(ctx, tx, invoice.ID, invoice.Status, target, paidAt, now)
		if err != nil {
			return err
		}
		if !updated {
			outcome = metrics.PaymentEventStale
			return nil
		}
		result.NewStatus = target
		result.Changed = true
		outcome = metrics.PaymentEventApplied
		return nil
	})
	if err != nil {
		return paymentdomain.ApplyResult{}, err
	}

	r.metrics.IncPaymentEvent(eventType, outcome)
	switch outcome {
	case metrics.PaymentEventUnknownPayment:
		r.log.Warn("payment.event.unknown_payment",
			zap.String("event_type", eventType),
			zap.String("provider_payment_id", providerPaymentID),
		)
	case metrics.PaymentEventStale:
		r.log.Info("payment.event.stale",
			zap.String("event_type", eventType),
			zap.String("invoice_id", result.InvoiceID.String()),
			zap.String("status", string(result.NewStatus)),
		)
	case metrics.PaymentEventApplied:
		if r.invalidator != nil {
			r.invalidator.Invalidate(partnerID)
		}
		r.log.Info("payment.event.applied",
			zap.String("event_type", eventType),
			zap.String("invoice_id", result.InvoiceID.String()),
			zap.String("status", string(result.NewStatus)),
		)
	}
	return result, nil
}
