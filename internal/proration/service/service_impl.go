package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	"github.com/smallbiznis/partnerbilling/internal/subscription/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             prorationdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	CatalogRepo      catalogdomain.Repository
	Entitlements     entdomain.Rebuilder
	Invoices         invoicedomain.Repricer
	AuditSvc         auditdomain.Service
	Metrics          *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         prorationdomain.Repository
	subRepo      subscriptiondomain.Repository
	catalog      catalogdomain.Repository
	entitlements entdomain.Rebuilder
	invoices     invoicedomain.Repricer
	auditSvc     auditdomain.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) prorationdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("proration.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		subRepo:      p.SubscriptionRepo,
		catalog:      p.CatalogRepo,
		entitlements: p.Entitlements,
		invoices:     p.Invoices,
		auditSvc:     p.AuditSvc,
		metrics:      p.Metrics,
	}
}

func (s *Service) Calculate(ctx context.Context, tenantID, newPlanID snowflake.ID) (prorationdomain.Calculation, error) {
	if tenantID == 0 {
		return prorationdomain.Calculation{}, prorationdomain.ErrInvalidTenant
	}
	sub, err := s.subRepo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return prorationdomain.Calculation{}, err
	}
	calc, _, err := s.calculate(ctx, s.db, sub, newPlanID)
	return calc, err
}

func (s *Service) calculate(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.TenantSubscription, newPlanID snowflake.ID) (prorationdomain.Calculation, *catalogdomain.Plan, error) {
	if sub == nil {
		return prorationdomain.Calculation{}, nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err := guard.EnsureChangeable(sub.Status); err != nil {
		return prorationdomain.Calculation{}, nil, err
	}

	plan, err := s.catalog.FindPlan(ctx, db, newPlanID)
	if err != nil {
		return prorationdomain.Calculation{}, nil, err
	}
	if plan == nil || !plan.Active {
		return prorationdomain.Calculation{}, nil, catalogdomain.ErrPlanNotFound
	}
	if plan.PartnerID != sub.PartnerID {
		return prorationdomain.Calculation{}, nil, prorationdomain.ErrPlanScopeMismatch
	}
	if sub.PlanID != nil && *sub.PlanID == plan.ID {
		return prorationdomain.Calculation{}, nil, prorationdomain.ErrSamePlan
	}

	from := decimal.Zero
	if sub.PlanID != nil {
		from = sub.MonthlyAmount
	}
	start := clock.Day(sub.CurrentPeriodStart)
	end := clock.Day(sub.CurrentPeriodEnd)
	amounts := prorationdomain.Prorate(
		from,
		plan.MonthlyAmount,
		clock.DaysBetween(s.clock.Now(), end),
		clock.DaysBetween(start, end),
	)

	return prorationdomain.Calculation{
		Amounts:        amounts,
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		FromPlanID:     sub.PlanID,
		ToPlanID:       plan.ID,
		FromAmount:     from,
		ToAmount:       plan.MonthlyAmount,
		Currency:       plan.Currency,
		PeriodStart:    start,
		PeriodEnd:      end,
	}, plan, nil
}

// ChangePlanWithProration switches the tenant to a new plan and records the
// proration that the next invoice will carry.
func (s *Service) ChangePlanWithProration(ctx context.Context, req prorationdomain.ChangePlanRequest) (prorationdomain.ChangePlanResult, error) {
	if req.TenantID == 0 {
		return prorationdomain.ChangePlanResult{}, prorationdomain.ErrInvalidTenant
	}

	var result prorationdomain.ChangePlanResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByTenantForUpdate(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		calc, plan, err := s.calculate(ctx, tx, sub, req.NewPlanID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		record := &prorationdomain.ProrationRecord{
			ID:              s.genID.Generate(),
			TenantID:        sub.TenantID,
			SubscriptionID:  sub.ID,
			FromPlanID:      calc.FromPlanID,
			ToPlanID:        calc.ToPlanID,
			FromAmount:      calc.FromAmount,
			ToAmount:        calc.ToAmount,
			DaysRemaining:   calc.DaysRemaining,
			DaysInCycle:     calc.DaysInCycle,
			ProrationCredit: calc.Credit,
			ProrationCharge: calc.Charge,
			NetAmount:       calc.Net,
			Status:          prorationdomain.StatusPending,
			CreatedAt:       now,
		}
		switch {
		case req.Waive:
			record.Status = prorationdomain.StatusWaived
		case calc.DaysRemaining <= 0:
			// the next invoice already bills the new base amount
			record.Status = prorationdomain.StatusApplied
			record.AppliedAt = &now
		}

		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}
		if err := s.subRepo.UpdatePlan(ctx, tx, sub.ID, plan.ID, plan.MonthlyAmount, plan.Currency, now); err != nil {
			return err
		}
		if err := s.repriceUpcoming(ctx, tx, sub, calc, record, now); err != nil {
			return err
		}
		if err := s.entitlements.RebuildTx(ctx, tx, sub.TenantID); err != nil {
			return err
		}

		action := auditdomain.ActionProrationRecorded
		if record.Status == prorationdomain.StatusWaived {
			action = auditdomain.ActionProrationWaived
		}
		tenantID := sub.TenantID
		partnerID := sub.PartnerID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			TenantID:   &tenantID,
			ActorType:  auditdomain.ActorTypeOperator,
			ActorID:    req.ActorID,
			Action:     action,
			TargetType: "proration_record",
			TargetID:   record.ID.String(),
			Metadata: map[string]any{
				"from_plan_id":   planIDString(calc.FromPlanID),
				"to_plan_id":     calc.ToPlanID.String(),
				"days_remaining": calc.DaysRemaining,
				"days_in_cycle":  calc.DaysInCycle,
				"net_amount":     calc.Net.StringFixed(2),
				"status":         string(record.Status),
			},
		}); err != nil {
			return err
		}

		result = prorationdomain.ChangePlanResult{
			Calculation: calc,
			RecordID:    record.ID,
			Status:      record.Status,
		}
		return nil
	})
	if err != nil {
		return prorationdomain.ChangePlanResult{}, err
	}

	s.metrics.RecordPlanChange(ctx, string(result.Status))
	s.log.Info("proration.plan_changed",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("to_plan_id", result.ToPlanID.String()),
		zap.String("net_amount", result.Net.StringFixed(2)),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// repriceUpcoming moves an invoice already issued for the next period onto the
// new plan. When that invoice can no longer change, the full-period difference
// is queued for the invoice after it.
func (s *Service) repriceUpcoming(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.TenantSubscription, calc prorationdomain.Calculation, record *prorationdomain.ProrationRecord, now time.Time) error {
	res, err := s.invoices.RepriceUpcoming(ctx, tx, invoicedomain.RepriceRequest{
		TenantID:    sub.TenantID,
		PeriodStart: calc.PeriodEnd,
		Base:        calc.ToAmount,
	})
	if err != nil {
		return err
	}

	switch {
	case !res.Found:
		return nil
	case res.Repriced:
		if !res.Unabsorbed.IsNegative() {
			return nil
		}
		return s.repo.Insert(ctx, tx, carryForward(s.genID.Generate(), record, res.Unabsorbed, now))
	default:
		delta := calc.ToAmount.Sub(sub.MonthlyAmount.Round(2))
		if delta.IsZero() {
			return nil
		}
		days := clock.DaysBetween(res.PeriodStart, res.PeriodEnd)
		next := carryForward(s.genID.Generate(), record, delta, now)
		next.DaysRemaining = days
		next.DaysInCycle = days
		s.log.Info("proration.next_period_queued",
			zap.String("tenant_id", sub.TenantID.String()),
			zap.String("invoice_id", res.InvoiceID.String()),
			zap.String("net_amount", delta.StringFixed(2)),
		)
		return s.repo.Insert(ctx, tx, next)
	}
}

func planIDString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
