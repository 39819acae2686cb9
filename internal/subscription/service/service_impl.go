package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	"github.com/smallbiznis/partnerbilling/internal/subscription/guard"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         subscriptiondomain.Repository
	CatalogRepo  catalogdomain.Repository
	InvoiceRepo  invoicedomain.Repository
	Entitlements entdomain.Rebuilder
	AuditSvc     auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         subscriptiondomain.Repository
	catalog      catalogdomain.Repository
	invoices     invoicedomain.Repository
	entitlements entdomain.Rebuilder
	auditSvc     auditdomain.Service
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		catalog:      p.CatalogRepo,
		invoices:     p.InvoiceRepo,
		entitlements: p.Entitlements,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.TenantSubscription, error) {
	if req.TenantID == 0 || req.PartnerID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	if req.MonthlyAmount.IsNegative() || req.TrialDays < 0 {
		return nil, subscriptiondomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	start := clock.Day(req.PeriodStart)
	if req.PeriodStart.IsZero() {
		start = clock.Day(now)
	}

	var out *subscriptiondomain.TenantSubscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTenant(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrSubscriptionExists
		}

		sub := &subscriptiondomain.TenantSubscription{
			ID:                    s.genID.Generate(),
			TenantID:              req.TenantID,
			PartnerID:             req.PartnerID,
			PaymentProvider:       strings.TrimSpace(req.PaymentProvider),
			PaymentMethodAttached: req.PaymentMethodAttached,
			MonthlyAmount:         req.MonthlyAmount.Round(2),
			Currency:              strings.ToUpper(strings.TrimSpace(req.Currency)),
			CreatedAt:             now,
			UpdatedAt:             now,
		}

		cycle := catalogdomain.BillingCycleMonthly
		if req.PlanID != nil {
			plan, err := s.catalog.FindPlan(ctx, tx, *req.PlanID)
			if err != nil {
				return err
			}
			if plan == nil || !plan.Active || plan.PartnerID != req.PartnerID {
				return catalogdomain.ErrPlanNotFound
			}
			planID := plan.ID
			sub.PlanID = &planID
			sub.MonthlyAmount = plan.MonthlyAmount
			sub.Currency = plan.Currency
			cycle = plan.BillingCycle
		}
		if sub.Currency == "" {
			return subscriptiondomain.ErrInvalidCurrency
		}

		sub.CurrentPeriodStart = start
		if req.TrialDays > 0 {
			trialEnd := start.AddDate(0, 0, req.TrialDays)
			sub.Status = subscriptiondomain.SubscriptionStatusTrial
			sub.TrialStartsAt = &start
			sub.TrialEndsAt = &trialEnd
			sub.CurrentPeriodEnd = trialEnd
		} else {
			sub.Status = subscriptiondomain.SubscriptionStatusActive
			sub.CurrentPeriodEnd = cycle.Next(start)
		}

		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrSubscriptionExists
			}
			return err
		}
		if err := s.entitlements.RebuildTx(ctx, tx, sub.TenantID); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription.created",
		zap.String("subscription_id", out.ID.String()),
		zap.String("tenant_id", out.TenantID.String()),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) GetByTenant(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// TransitionTrials ends every trial due on targetDate. A trial with a plan or
// payment method becomes active, anything else expires and its open invoices
// are canceled.
func (s *Service) TransitionTrials(ctx context.Context, targetDate time.Time) (subscriptiondomain.TrialResult, error) {
	var result subscriptiondomain.TrialResult
	targetDate = clock.Day(targetDate)

	trials, err := s.repo.ListTrialsEnding(ctx, s.db, targetDate)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, sub := range trials {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !guard.TrialEnded(sub, targetDate) {
			continue
		}
		outcome, changed, err := s.endTrial(ctx, sub)
		if err != nil {
			s.log.Warn("subscription.trial.transition_failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if !changed {
			continue
		}
		switch outcome {
		case subscriptiondomain.SubscriptionStatusActive:
			result.Activated++
		case subscriptiondomain.SubscriptionStatusExpired:
			result.Expired++
		}
	}
	return result, errors.Join(errs...)
}

func (s *Service) endTrial(ctx context.Context, sub subscriptiondomain.TenantSubscription) (subscriptiondomain.SubscriptionStatus, bool, error) {
	outcome := guard.TrialOutcome(sub)
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		updated, err := s.repo.UpdateStatus(ctx, tx, sub.ID,
			[]subscriptiondomain.SubscriptionStatus{subscriptiondomain.SubscriptionStatusTrial},
			outcome, now)
		if err != nil || !updated {
			return err
		}

		canceled := int64(0)
		if outcome == subscriptiondomain.SubscriptionStatusExpired {
			canceled, err = s.invoices.CancelOpenBySubscription(ctx, tx, sub.ID, now)
			if err != nil {
				return err
			}
		}
		if err := s.entitlements.RebuildTx(ctx, tx, sub.TenantID); err != nil {
			return err
		}

		partnerID := sub.PartnerID
		tenantID := sub.TenantID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			TenantID:   &tenantID,
			ActorType:  auditdomain.ActorTypeScheduler,
			Action:     auditdomain.ActionTrialEnded,
			TargetType: "subscription",
			TargetID:   sub.ID.String(),
			Metadata: map[string]any{
				"outcome":           string(outcome),
				"invoices_canceled": canceled,
			},
		}); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return outcome, changed, err
}
