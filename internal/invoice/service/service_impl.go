package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	"github.com/smallbiznis/partnerbilling/internal/subscription/guard"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"github.com/smallbiznis/partnerbilling/pkg/db/option"
	"github.com/smallbiznis/partnerbilling/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// errInvoiceExists rolls back a generation that lost the uniqueness race.
var errInvoiceExists = errors.New("invoice_exists")

var adjustmentOrder = map[invoicedomain.LineType]int{
	invoicedomain.LineTypeProration: 1,
	invoicedomain.LineTypeCoupon:    2,
}

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Billing          *config.BillingConfigHolder
	Repo             invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	CatalogRepo      catalogdomain.Repository
	Adjustments      []invoicedomain.AdjustmentSource `group:"invoice_adjustments"`
	Metrics          *metrics.BillingMetrics          `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	repo         invoicedomain.Repository
	invoicestore repository.Repository[invoicedomain.Invoice]
	subRepo      subscriptiondomain.Repository
	catalog      catalogdomain.Repository
	adjustments  []invoicedomain.AdjustmentSource
	metrics      *metrics.BillingMetrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	sources := append([]invoicedomain.AdjustmentSource(nil), p.Adjustments...)
	sort.SliceStable(sources, func(i, j int) bool {
		return adjustmentOrder[sources[i].Kind()] < adjustmentOrder[sources[j].Kind()]
	})

	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		clock:        p.Clock,
		billing:      p.Billing,
		repo:         p.Repo,
		invoicestore: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		subRepo:      p.SubscriptionRepo,
		catalog:      p.CatalogRepo,
		adjustments:  sources,
		metrics:      p.Metrics,
	}
}

func (s *Service) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error) {
	if req.TenantID == 0 {
		return invoicedomain.GenerateResult{}, invoicedomain.ErrInvalidTenant
	}
	key := invoicedomain.Key{
		TenantID:    req.TenantID,
		PeriodStart: clock.Day(req.PeriodStart),
		PeriodEnd:   clock.Day(req.PeriodEnd),
	}
	if !key.PeriodEnd.After(key.PeriodStart) {
		return invoicedomain.GenerateResult{}, invoicedomain.ErrInvalidPeriod
	}

	if existing, err := s.repo.FindByKey(ctx, s.db, key); err != nil {
		return invoicedomain.GenerateResult{}, err
	} else if existing != nil {
		s.metrics.IncInvoiceGenerated(metrics.InvoiceResultIdempotent)
		return invoicedomain.GenerateResult{InvoiceID: existing.ID, Idempotent: true}, nil
	}

	var created *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByID(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || sub.TenantID != req.TenantID {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if err := guard.EnsureBillable(sub.Status); err != nil {
			return err
		}

		invoice, lines, applied, err := s.build(ctx, tx, sub, key)
		if err != nil {
			return err
		}

		inserted, err := s.repo.Insert(ctx, tx, invoice)
		if err != nil {
			return err
		}
		if !inserted {
			return errInvoiceExists
		}
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			return err
		}
		for _, source := range s.adjustments {
			adjs := applied[source.Kind()]
			if len(adjs) == 0 {
				continue
			}
			if err := source.CommitAdjustments(ctx, tx, invoice, adjs); err != nil {
				return fmt.Errorf("commit %s adjustments: %w", source.Kind(), err)
			}
		}
		created = invoice
		return nil
	})
	if errors.Is(err, errInvoiceExists) {
		existing, findErr := s.repo.FindByKey(ctx, s.db, key)
		if findErr != nil {
			return invoicedomain.GenerateResult{}, findErr
		}
		if existing == nil {
			return invoicedomain.GenerateResult{}, invoicedomain.ErrInvoiceNotFound
		}
		s.metrics.IncInvoiceGenerated(metrics.InvoiceResultIdempotent)
		return invoicedomain.GenerateResult{InvoiceID: existing.ID, Idempotent: true}, nil
	}
	if err != nil {
		return invoicedomain.GenerateResult{}, err
	}

	s.metrics.IncInvoiceGenerated(metrics.InvoiceResultCreated)
	s.log.Info("invoice.generated",
		zap.String("invoice_id", created.ID.String()),
		zap.String("tenant_id", created.TenantID.String()),
		zap.String("period_start", key.PeriodStart.Format(dateLayout)),
		zap.String("period_end", key.PeriodEnd.Format(dateLayout)),
		zap.String("amount", created.Amount.StringFixed(2)),
	)
	return invoicedomain.GenerateResult{InvoiceID: created.ID}, nil
}

func (s *Service) build(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.TenantSubscription, key invoicedomain.Key) (*invoicedomain.Invoice, []invoicedomain.InvoiceLine, map[invoicedomain.LineType][]invoicedomain.Adjustment, error) {
	now := s.clock.Now()
	invoiceID := s.genID.Generate()
	base := sub.MonthlyAmount.Round(2)

	var all []invoicedomain.Adjustment
	applied := make(map[invoicedomain.LineType][]invoicedomain.Adjustment)
	for _, source := range s.adjustments {
		running, _, _ := invoicedomain.Totals(base, all)
		adjs, err := source.PendingAdjustments(ctx, tx, sub.TenantID, running)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("collect %s adjustments: %w", source.Kind(), err)
		}
		applied[source.Kind()] = adjs
		all = append(all, adjs...)
	}

	subtotal, discount, amount := invoicedomain.Totals(base, all)

	status := invoicedomain.InvoiceStatusPending
	var paidAt *time.Time
	if amount.IsZero() {
		status = invoicedomain.InvoiceStatusPaid
		paidAt = &now
	}

	invoice := &invoicedomain.Invoice{
		ID:             invoiceID,
		TenantID:       sub.TenantID,
		PartnerID:      sub.PartnerID,
		SubscriptionID: sub.ID,
		PeriodStart:    key.PeriodStart,
		PeriodEnd:      key.PeriodEnd,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Amount:         amount,
		Currency:       sub.Currency,
		DueDate:        key.PeriodStart.AddDate(0, 0, s.billing.Get().InvoiceDueDays),
		Status:         status,
		PaidAt:         paidAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	subID := sub.ID
	lines := []invoicedomain.InvoiceLine{{
		ID:          s.genID.Generate(),
		InvoiceID:   invoiceID,
		LineType:    invoicedomain.LineTypeSubscription,
		Description: fmt.Sprintf("Subscription %s to %s", key.PeriodStart.Format(dateLayout), key.PeriodEnd.Format(dateLayout)),
		Amount:      base,
		ReferenceID: &subID,
	}}
	for _, adj := range all {
		ref := adj.ReferenceID
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:          s.genID.Generate(),
			InvoiceID:   invoiceID,
			LineType:    adj.Kind,
			Description: adj.Description,
			Amount:      adj.Amount,
			ReferenceID: &ref,
		})
	}
	return invoice, lines, applied, nil
}

// RepriceUpcoming swaps the subscription line of an already issued invoice for
// req.Base and recomputes its totals. Proration and coupon lines keep their
// recorded amounts; the coupon discount is capped at the new subtotal.
func (s *Service) RepriceUpcoming(ctx context.Context, tx *gorm.DB, req invoicedomain.RepriceRequest) (invoicedomain.RepriceResult, error) {
	result := invoicedomain.RepriceResult{Unabsorbed: decimal.Zero}
	invoice, err := s.repo.FindByPeriodStartForUpdate(ctx, tx, req.TenantID, clock.Day(req.PeriodStart))
	if err != nil || invoice == nil {
		return result, err
	}
	result.Found = true
	result.InvoiceID = invoice.ID
	result.PeriodStart = invoice.PeriodStart
	result.PeriodEnd = invoice.PeriodEnd
	if invoice.Status != invoicedomain.InvoiceStatusPending || invoice.ProviderPaymentID != nil {
		return result, nil
	}

	lines, err := s.repo.ListLines(ctx, tx, invoice.ID)
	if err != nil {
		return result, err
	}
	var baseLine *invoicedomain.InvoiceLine
	adjustments := make([]invoicedomain.Adjustment, 0, len(lines))
	for i := range lines {
		if lines[i].LineType == invoicedomain.LineTypeSubscription && baseLine == nil {
			baseLine = &lines[i]
			continue
		}
		adjustments = append(adjustments, invoicedomain.Adjustment{
			Kind:   lines[i].LineType,
			Amount: lines[i].Amount,
		})
	}
	if baseLine == nil {
		return result, fmt.Errorf("invoice %s has no subscription line", invoice.ID)
	}

	base := req.Base.Round(2)
	result.Repriced = true
	if baseLine.Amount.Equal(base) {
		return result, nil
	}
	if raw := invoicedomain.Subtotal(base, adjustments); raw.IsNegative() {
		result.Unabsorbed = raw
	}

	now := s.clock.Now()
	invoice.Subtotal, invoice.DiscountAmount, invoice.Amount = invoicedomain.Totals(base, adjustments)
	invoice.UpdatedAt = now
	if invoice.Amount.IsZero() {
		invoice.Status = invoicedomain.InvoiceStatusPaid
		invoice.PaidAt = &now
	}

	if err := s.repo.UpdateLineAmount(ctx, tx, baseLine.ID, base); err != nil {
		return result, err
	}
	updated, err := s.repo.UpdateTotals(ctx, tx, invoice)
	if err != nil {
		return result, err
	}
	if !updated {
		return result, fmt.Errorf("invoice %s left pending during reprice", invoice.ID)
	}

	s.log.Info("invoice.repriced",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("tenant_id", invoice.TenantID.String()),
		zap.String("previous_base", baseLine.Amount.StringFixed(2)),
		zap.String("base", base.StringFixed(2)),
		zap.String("amount", invoice.Amount.StringFixed(2)),
	)
	return result, nil
}

// GenerateDue issues next-period invoices for subscriptions ending within the
// lookahead window, then rolls ended periods forward.
func (s *Service) GenerateDue(ctx context.Context, targetDate time.Time, lookaheadDays int) (invoicedomain.DueResult, error) {
	var result invoicedomain.DueResult
	targetDate = clock.Day(targetDate)
	if lookaheadDays < 0 {
		lookaheadDays = 0
	}
	horizon := targetDate.AddDate(0, 0, lookaheadDays)

	due, err := s.subRepo.ListDueForInvoice(ctx, s.db, horizon)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		cycle, err := s.cycleFor(ctx, sub)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		start := clock.Day(sub.CurrentPeriodEnd)
		res, err := s.Generate(ctx, invoicedomain.GenerateRequest{
			TenantID:       sub.TenantID,
			SubscriptionID: sub.ID,
			PeriodStart:    start,
			PeriodEnd:      cycle.Next(start),
		})
		if err != nil {
			s.log.Warn("invoice.generate_due.failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("tenant_id", sub.TenantID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if res.Idempotent {
			result.InvoicesIdempotent++
		} else {
			result.InvoicesCreated++
		}
	}

	rollable, err := s.subRepo.ListRollable(ctx, s.db, targetDate)
	if err != nil {
		return result, errors.Join(append(errs, err)...)
	}
	now := s.clock.Now()
	for _, sub := range rollable {
		cycle, err := s.cycleFor(ctx, sub)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		end := clock.Day(sub.CurrentPeriodEnd)
		advanced, err := s.subRepo.AdvancePeriod(ctx, s.db, sub.ID, sub.CurrentPeriodEnd, cycle.Next(end), now)
		if err != nil {
			errs = append(errs, fmt.Errorf("advance subscription %s: %w", sub.ID, err))
			continue
		}
		if advanced {
			result.PeriodsAdvanced++
		}
	}

	return result, errors.Join(errs...)
}

func (s *Service) cycleFor(ctx context.Context, sub subscriptiondomain.TenantSubscription) (catalogdomain.BillingCycle, error) {
	if sub.PlanID == nil {
		return catalogdomain.BillingCycleMonthly, nil
	}
	plan, err := s.catalog.FindPlan(ctx, s.db, *sub.PlanID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return catalogdomain.BillingCycleMonthly, nil
	}
	return plan.BillingCycle, nil
}

func (s *Service) MarkOverdue(ctx context.Context, targetDate time.Time) (int64, error) {
	return s.repo.MarkOverdue(ctx, s.db, clock.Day(targetDate), s.clock.Now())
}

func (s *Service) AttachProviderPayment(ctx context.Context, invoiceID snowflake.ID, providerPaymentID string) (*invoicedomain.Invoice, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return nil, invoicedomain.ErrInvalidProviderPaymentID
	}

	var out *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, db.ForUpdate(tx), invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.ProviderPaymentID != nil {
			if *invoice.ProviderPaymentID == providerPaymentID {
				out = invoice
				return nil
			}
			return invoicedomain.ErrProviderPaymentConflict
		}

		other, err := s.repo.FindByProviderPaymentID(ctx, tx, providerPaymentID)
		if err != nil {
			return err
		}
		if other != nil && other.ID != invoice.ID {
			return invoicedomain.ErrProviderPaymentConflict
		}

		now := s.clock.Now()
		if err := s.repo.SetProviderPaymentID(ctx, tx, invoice.ID, providerPaymentID, now); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrProviderPaymentConflict
			}
			return err
		}
		invoice.ProviderPaymentID = &providerPaymentID
		invoice.UpdatedAt = now
		out = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.InvoiceDetail, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	lines, err := s.repo.ListLines(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &invoicedomain.InvoiceDetail{Invoice: *invoice, Lines: lines}, nil
}

func (s *Service) ListByTenant(ctx context.Context, tenantID snowflake.ID) ([]invoicedomain.Invoice, error) {
	if tenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}
	items, err := s.invoicestore.Find(ctx,
		&invoicedomain.Invoice{TenantID: tenantID},
		option.WithSortBy("period_start desc, id desc"),
	)
	if err != nil {
		return nil, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	return invoices, nil
}
