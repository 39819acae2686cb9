package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	"github.com/smallbiznis/partnerbilling/internal/cache"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Billing          *config.BillingConfigHolder
	TenantRepo       tenantdomain.Repository
	InvoiceRepo      invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Entitlements     entdomain.Rebuilder
	AuditSvc         auditdomain.Service
	Metrics          *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	billing       *config.BillingConfigHolder
	tenants       tenantdomain.Repository
	invoices      invoicedomain.Repository
	subscriptions subscriptiondomain.Repository
	entitlements  entdomain.Rebuilder
	auditSvc      auditdomain.Service
	metrics       *metrics.BillingMetrics
	states        *cache.TTLCache[dunningdomain.AccessState]
}

func NewService(p Params) dunningdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("dunning.service"),
		clock:         p.Clock,
		billing:       p.Billing,
		tenants:       p.TenantRepo,
		invoices:      p.InvoiceRepo,
		subscriptions: p.SubscriptionRepo,
		entitlements:  p.Entitlements,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
		states:        cache.NewTTLCache[dunningdomain.AccessState](p.Billing.Get().AccessStateCacheTTL, time.Minute),
	}
}

// overdueSummary aggregates the overdue invoices relevant to one level decision.
type overdueSummary struct {
	count   int
	amount  decimal.Decimal
	maxDays int
}

func summarize(invoices []invoicedomain.Invoice, asOf time.Time) overdueSummary {
	summary := overdueSummary{amount: decimal.Zero}
	for _, inv := range invoices {
		days := clock.DaysBetween(inv.DueDate, asOf)
		if days < 0 {
			days = 0
		}
		summary.count++
		summary.amount = summary.amount.Add(inv.Amount)
		summary.maxDays = max(summary.maxDays, days)
	}
	return summary
}

func (s *Service) EffectiveDefaultPolicy() (dunningdomain.Policy, error) {
	policy := dunningdomain.PolicyFromThresholds(s.billing.Get().Dunning)
	if err := policy.Validate(); err != nil {
		return dunningdomain.Policy{}, err
	}
	return policy, nil
}

func (s *Service) policyFor(partner *tenantdomain.Partner) (dunningdomain.Policy, error) {
	if partner == nil || partner.DunningPolicy.Data() == nil {
		return s.EffectiveDefaultPolicy()
	}
	policy := dunningdomain.PolicyFromPartner(partner.DunningPolicy.Data())
	if err := policy.Validate(); err != nil {
		return dunningdomain.Policy{}, fmt.Errorf("partner %s: %w", partner.ID, err)
	}
	return policy, nil
}

func (s *Service) ComputeAccessState(ctx context.Context, partnerID snowflake.ID) (dunningdomain.AccessState, error) {
	if partnerID == 0 {
		return dunningdomain.AccessState{}, dunningdomain.ErrInvalidPartner
	}

	key := partnerID.String()
	if state, ok := s.states.Get(key); ok {
		s.metrics.IncAccessStateLookup(true)
		return state, nil
	}
	s.metrics.IncAccessStateLookup(false)

	partner, err := s.tenants.FindPartner(ctx, s.db, partnerID)
	if err != nil {
		return dunningdomain.AccessState{}, err
	}
	if partner == nil {
		return dunningdomain.AccessState{}, tenantdomain.ErrPartnerNotFound
	}
	policy, err := s.policyFor(partner)
	if err != nil {
		return dunningdomain.AccessState{}, err
	}

	tenants, err := s.tenants.ListTenantsByPartner(ctx, s.db, partnerID)
	if err != nil {
		return dunningdomain.AccessState{}, err
	}

	state := dunningdomain.NewAccessState(partnerID, dunningdomain.LevelNone)
	if len(tenants) > 0 {
		asOf := clock.Day(s.clock.Now())
		tenantIDs := lo.Map(tenants, func(t tenantdomain.Tenant, _ int) snowflake.ID { return t.ID })
		overdue, err := s.invoices.ListOverdue(ctx, s.db, tenantIDs, asOf)
		if err != nil {
			return dunningdomain.AccessState{}, err
		}
		summary := summarize(overdue, asOf)
		state = dunningdomain.NewAccessState(partnerID, policy.LevelFor(summary.maxDays))
		state.OverdueCount = summary.count
		state.OverdueAmount = summary.amount
		state.MaxDaysOverdue = summary.maxDays
	}
	if state.OverdueCount == 0 {
		s.log.Debug("dunning.access_state.clear", zap.String("partner_id", key), zap.Int("tenants", len(tenants)))
	}

	if ttl := s.billing.Get().AccessStateCacheTTL; ttl > 0 {
		s.states.Set(key, state, ttl)
	}
	return state, nil
}

func (s *Service) Invalidate(partnerID snowflake.ID) {
	s.states.Delete(partnerID.String())
}

func (s *Service) ApplyDunningPolicy(ctx context.Context, tenantID snowflake.ID) (dunningdomain.TenantDunningResult, error) {
	return s.applyTenant(ctx, tenantID, clock.Day(s.clock.Now()))
}

func (s *Service) applyTenant(ctx context.Context, tenantID snowflake.ID, asOf time.Time) (dunningdomain.TenantDunningResult, error) {
	if tenantID == 0 {
		return dunningdomain.TenantDunningResult{}, dunningdomain.ErrInvalidTenant
	}

	var result dunningdomain.TenantDunningResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenants.FindTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		partner, err := s.tenants.FindPartner(ctx, tx, tenant.PartnerID)
		if err != nil {
			return err
		}
		policy, err := s.policyFor(partner)
		if err != nil {
			return err
		}

		overdue, err := s.invoices.ListOverdue(ctx, tx, []snowflake.ID{tenantID}, asOf)
		if err != nil {
			return err
		}
		summary := summarize(overdue, asOf)
		level := policy.LevelFor(summary.maxDays)
		now := s.clock.Now()

		flags := tenantdomain.DunningFlags{
			Level:    level,
			ReadOnly: level == dunningdomain.LevelReadOnly,
			Blocked:  level >= dunningdomain.LevelBlocked,
		}
		if level >= dunningdomain.LevelPartial {
			flags.SuspendedAt = tenant.SuspendedAt
			if flags.SuspendedAt == nil {
				flags.SuspendedAt = &now
			}
		}
		if err := s.tenants.UpdateTenantDunning(ctx, tx, tenantID, flags, now); err != nil {
			return err
		}

		result = dunningdomain.TenantDunningResult{
			TenantID:       tenantID,
			PartnerID:      tenant.PartnerID,
			PreviousLevel:  tenant.DunningLevel,
			DunningLevel:   level,
			MaxDaysOverdue: summary.maxDays,
			OverdueCount:   summary.count,
			ReadOnly:       flags.ReadOnly,
			Blocked:        flags.Blocked,
		}

		status, err := s.syncSubscription(ctx, tx, tenantID, level, now)
		if err != nil {
			return err
		}
		result.SubscriptionStatus = status

		if level >= dunningdomain.LevelBlocked {
			if err := s.tenants.SuspendPartner(ctx, tx, tenant.PartnerID, now); err != nil {
				return err
			}
			result.PartnerSuspended = true
		}

		if result.PreviousLevel == level {
			return nil
		}
		partnerID := tenant.PartnerID
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			TenantID:   &tenantID,
			Action:     auditdomain.ActionDunningApplied,
			TargetType: "tenant",
			TargetID:   tenantID.String(),
			Metadata: map[string]any{
				"previous_level":   result.PreviousLevel,
				"dunning_level":    level,
				"max_days_overdue": summary.maxDays,
				"overdue_count":    summary.count,
			},
		})
	})
	if err != nil {
		return dunningdomain.TenantDunningResult{}, err
	}

	s.Invalidate(result.PartnerID)
	s.metrics.IncDunningApplied(result.DunningLevel)
	if result.PreviousLevel != result.DunningLevel {
		s.log.Info("dunning.level.changed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("partner_id", result.PartnerID.String()),
			zap.Int("previous_level", result.PreviousLevel),
			zap.Int("dunning_level", result.DunningLevel),
			zap.Int("max_days_overdue", result.MaxDaysOverdue),
		)
	}
	return result, nil
}

// syncSubscription moves active subscriptions to past_due while the tenant is
// in dunning and back once the level clears.
func (s *Service) syncSubscription(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, level int, now time.Time) (string, error) {
	sub, err := s.subscriptions.FindByTenant(ctx, tx, tenantID)
	if err != nil || sub == nil {
		return "", err
	}

	from := subscriptiondomain.SubscriptionStatusPastDue
	to := subscriptiondomain.SubscriptionStatusActive
	if level > dunningdomain.LevelNone {
		from, to = to, from
	}
	if sub.Status != from {
		return string(sub.Status), nil
	}
	updated, err := s.subscriptions.UpdateStatus(ctx, tx, sub.ID, []subscriptiondomain.SubscriptionStatus{from}, to, now)
	if err != nil {
		return "", err
	}
	if !updated {
		return string(sub.Status), nil
	}
	return string(to), nil
}

// RunDunning marks due invoices overdue as of targetDate and re-evaluates
// every tenant that is overdue or still carries a level.
func (s *Service) RunDunning(ctx context.Context, targetDate time.Time) (dunningdomain.RunResult, error) {
	target := clock.Day(targetDate)
	var result dunningdomain.RunResult

	marked, err := s.invoices.MarkOverdue(ctx, s.db, target, s.clock.Now())
	if err != nil {
		return result, err
	}
	result.InvoicesMarkedOverdue = marked

	overdue, err := s.invoices.ListTenantsWithOverdue(ctx, s.db, target)
	if err != nil {
		return result, err
	}
	flagged, err := s.tenants.ListFlaggedTenantIDs(ctx, s.db)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, tenantID := range lo.Uniq(append(overdue, flagged...)) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.applyTenant(ctx, tenantID, target); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		result.DunningApplied++
	}
	return result, errors.Join(errs...)
}

// ReactivatePartners clears suspension for partners whose tenants no longer
// owe anything. A partner with any pending or overdue invoice is left alone.
func (s *Service) ReactivatePartners(ctx context.Context) (int, error) {
	partners, err := s.tenants.ListPartnersNeedingReactivation(ctx, s.db)
	if err != nil {
		return 0, err
	}

	reactivated := 0
	var errs []error
	for _, partner := range partners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.reactivate(ctx, partner)
		if err != nil {
			errs = append(errs, fmt.Errorf("partner %s: %w", partner.ID, err))
			continue
		}
		if ok {
			reactivated++
		}
	}
	s.metrics.AddPartnersReactivated(reactivated)
	return reactivated, errors.Join(errs...)
}

func (s *Service) reactivate(ctx context.Context, partner tenantdomain.Partner) (bool, error) {
	reactivated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenants, err := s.tenants.ListTenantsByPartner(ctx, tx, partner.ID)
		if err != nil {
			return err
		}
		tenantIDs := lo.Map(tenants, func(t tenantdomain.Tenant, _ int) snowflake.ID { return t.ID })
		open, err := s.invoices.CountOpen(ctx, tx, tenantIDs)
		if err != nil {
			return err
		}
		if open > 0 {
			s.log.Debug("dunning.reactivation.skipped",
				zap.String("partner_id", partner.ID.String()),
				zap.Int64("open_invoices", open),
			)
			return nil
		}

		now := s.clock.Now()
		if err := s.tenants.ReactivatePartner(ctx, tx, partner.ID, now); err != nil {
			return err
		}
		reset, err := s.tenants.ResetTenantsDunning(ctx, tx, partner.ID, now)
		if err != nil {
			return err
		}
		restored, err := s.subscriptions.ReactivatePastDueByPartner(ctx, tx, partner.ID, now)
		if err != nil {
			return err
		}

		partnerID := partner.ID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			ActorType:  auditdomain.ActorTypeScheduler,
			Action:     auditdomain.ActionPartnerReactivated,
			TargetType: "partner",
			TargetID:   partner.ID.String(),
			Metadata: map[string]any{
				"previous_status":        string(partner.Status),
				"tenants_reset":          reset,
				"subscriptions_restored": restored,
			},
		}); err != nil {
			return err
		}
		reactivated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if reactivated {
		s.Invalidate(partner.ID)
		s.log.Info("dunning.partner.reactivated", zap.String("partner_id", partner.ID.String()))
	}
	return reactivated, nil
}

func (s *Service) SetPartnerPolicy(ctx context.Context, req dunningdomain.SetPolicyRequest) error {
	if req.PartnerID == 0 {
		return dunningdomain.ErrInvalidPartner
	}
	var override *tenantdomain.DunningPolicy
	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return err
		}
		override = req.Policy.ToPartner()
	}

	var tenantIDs []snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.tenants.FindPartner(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		if partner == nil {
			return tenantdomain.ErrPartnerNotFound
		}
		if err := s.tenants.UpdatePartnerPolicy(ctx, tx, req.PartnerID, override, s.clock.Now()); err != nil {
			return err
		}

		tenants, err := s.tenants.ListTenantsByPartner(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		for _, tenant := range tenants {
			if err := s.entitlements.RebuildTx(ctx, tx, tenant.ID); err != nil {
				return err
			}
			tenantIDs = append(tenantIDs, tenant.ID)
		}

		metadata := map[string]any{"reset_to_default": override == nil}
		if override != nil {
			metadata["grace_days"] = override.GraceDays
			metadata["read_only_after_days"] = override.ReadOnlyAfterDays
			metadata["suspend_after_days"] = override.SuspendAfterDays
			metadata["block_after_days"] = override.BlockAfterDays
		}
		partnerID := req.PartnerID
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			ActorType:  auditdomain.ActorTypeOperator,
			ActorID:    req.ActorID,
			Action:     auditdomain.ActionDunningPolicyUpdate,
			TargetType: "partner",
			TargetID:   req.PartnerID.String(),
			Metadata:   metadata,
		})
	})
	if err != nil {
		return err
	}
	s.Invalidate(req.PartnerID)

	var errs []error
	for _, tenantID := range tenantIDs {
		if _, err := s.ApplyDunningPolicy(ctx, tenantID); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return errors.Join(errs...)
}
