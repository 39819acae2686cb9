package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	obscontext "github.com/smallbiznis/partnerbilling/internal/observability/context"
	"github.com/smallbiznis/partnerbilling/internal/observability/logger"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"github.com/smallbiznis/partnerbilling/pkg/db/option"
	"github.com/smallbiznis/partnerbilling/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Billing       *config.BillingConfigHolder
	Invoices      invoicedomain.Service
	Dunning       dunningdomain.Service
	Subscriptions subscriptiondomain.Service
	Metrics       *metrics.BillingMetrics `optional:"true"`
}

type phaseFunc func(ctx context.Context, target time.Time) (billingcycledomain.PhaseCounts, error)

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	phaseTimeout time.Duration
	metrics      *metrics.BillingMetrics

	invoices      invoicedomain.Service
	dunning       dunningdomain.Service
	subscriptions subscriptiondomain.Service

	markers repository.Repository[billingcycledomain.PhaseRun]
	phases  map[string]phaseFunc
}

func NewService(p ServiceParam) billingcycledomain.Service {
	s := &Service{
		db:           p.DB,
		log:          p.Log.Named("billingcycle.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		billing:      p.Billing,
		phaseTimeout: p.Cfg.Scheduler.PhaseTimeout,
		metrics:      p.Metrics,

		invoices:      p.Invoices,
		dunning:       p.Dunning,
		subscriptions: p.Subscriptions,

		markers: repository.ProvideStore[billingcycledomain.PhaseRun](p.DB),
	}
	s.phases = map[string]phaseFunc{
		billingcycledomain.PhaseInvoiceGen:  s.runInvoiceGen,
		billingcycledomain.PhaseDunning:     s.runDunning,
		billingcycledomain.PhaseTrials:      s.runTrials,
		billingcycledomain.PhaseDelinquency: s.runDelinquency,
	}
	return s
}

// Run executes the four phases for one target date. Phases already marked
// complete for that date are skipped; a failed phase leaves no marker so the
// next run retries it.
func (s *Service) Run(ctx context.Context, req billingcycledomain.RunRequest) (billingcycledomain.RunResult, error) {
	target := clock.Day(s.clock.Now())
	if req.TargetDate != nil {
		if req.TargetDate.IsZero() {
			return billingcycledomain.RunResult{}, billingcycledomain.ErrInvalidTargetDate
		}
		target = clock.Day(*req.TargetDate)
	}

	ctx, correlationID := obscontext.EnsureCorrelationID(ctx)
	log := logger.WithContext(ctx, s.log).With(zap.String("target_date", target.Format(time.DateOnly)))

	if err := s.preflight(ctx); err != nil {
		log.Error("billing_cycle.preflight.failed", zap.Error(err))
		return billingcycledomain.RunResult{}, err
	}

	result := billingcycledomain.RunResult{
		Success:       true,
		CorrelationID: correlationID,
		TargetDate:    target,
		Phases:        make([]billingcycledomain.PhaseResult, 0, len(billingcycledomain.Phases)),
	}
	log.Info("billing_cycle.run.start")

	for _, phase := range billingcycledomain.Phases {
		phaseResult := s.runPhase(ctx, log, phase, target, correlationID)
		if phaseResult.Error != "" {
			result.Success = false
		}
		result.Phases = append(result.Phases, phaseResult)
	}

	log.Info("billing_cycle.run.finish", zap.Bool("success", result.Success))
	return result, nil
}

func (s *Service) preflight(ctx context.Context) error {
	if s.invoices == nil || s.dunning == nil || s.subscriptions == nil {
		return fmt.Errorf("%w: %w", billingcycledomain.ErrPreflightFailed, billingcycledomain.ErrMissingDependency)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", billingcycledomain.ErrPreflightFailed, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: database ping: %w", billingcycledomain.ErrPreflightFailed, err)
	}
	if _, err := s.dunning.EffectiveDefaultPolicy(); err != nil {
		return fmt.Errorf("%w: %w", billingcycledomain.ErrPreflightFailed, err)
	}
	return nil
}

func (s *Service) runPhase(ctx context.Context, log *zap.Logger, phase string, target time.Time, correlationID string) billingcycledomain.PhaseResult {
	result := billingcycledomain.PhaseResult{Phase: phase}
	log = log.With(zap.String("phase", phase))

	done, err := s.markers.FindOne(ctx, &billingcycledomain.PhaseRun{Phase: phase, TargetDate: target})
	if err != nil {
		result.Error = err.Error()
		s.metrics.IncPhaseRun(phase, metrics.PhaseOutcomeFailed)
		s.metrics.IncPhaseError(phase, err)
		log.Error("billing_cycle.phase.marker_lookup_failed", zap.Error(err))
		return result
	}
	if done != nil {
		result.Skipped = true
		s.metrics.IncPhaseRun(phase, metrics.PhaseOutcomeSkipped)
		log.Info("billing_cycle.phase.skipped")
		return result
	}

	phaseCtx := ctx
	if s.phaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, s.phaseTimeout)
		defer cancel()
	}

	log.Info("billing_cycle.phase.start")
	start := time.Now()
	counts, err := s.phases[phase](phaseCtx, target)
	duration := time.Since(start)
	result.DurationMs = duration.Milliseconds()
	s.metrics.ObservePhaseDuration(phase, duration)

	if err == nil {
		err = s.markDone(ctx, phase, target, correlationID, counts, result.DurationMs)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.IncPhaseTimeout(phase)
		}
		s.metrics.IncPhaseRun(phase, metrics.PhaseOutcomeFailed)
		s.metrics.IncPhaseError(phase, err)
		result.Error = err.Error()
		log.Error("billing_cycle.phase.failed",
			zap.Error(err),
			zap.Bool("retryable", metrics.IsRetryable(err)),
			zap.Int64("duration_ms", result.DurationMs),
		)
		return result
	}

	result.PhaseCounts = counts
	s.metrics.IncPhaseRun(phase, metrics.PhaseOutcomeCompleted)
	log.Info("billing_cycle.phase.finish",
		zap.Int64("duration_ms", result.DurationMs),
		zap.Any("counts", counts),
	)
	return result
}

// markDone records completion. A concurrent run that already inserted the
// marker counts as success.
func (s *Service) markDone(ctx context.Context, phase string, target time.Time, correlationID string, counts billingcycledomain.PhaseCounts, durationMs int64) error {
	_, err := db.InsertIgnore(s.db.WithContext(ctx), &billingcycledomain.PhaseRun{
		ID:            s.genID.Generate(),
		Phase:         phase,
		TargetDate:    target,
		CorrelationID: correlationID,
		Counts:        datatypes.NewJSONType(counts),
		DurationMs:    durationMs,
		CompletedAt:   s.clock.Now(),
	}, "phase", "target_date")
	return err
}

func (s *Service) Markers(ctx context.Context, targetDate time.Time) ([]billingcycledomain.PhaseRun, error) {
	if targetDate.IsZero() {
		return nil, billingcycledomain.ErrInvalidTargetDate
	}
	rows, err := s.markers.Find(ctx,
		&billingcycledomain.PhaseRun{TargetDate: clock.Day(targetDate)},
		option.WithSortBy("completed_at asc, id asc"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]billingcycledomain.PhaseRun, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) runInvoiceGen(ctx context.Context, target time.Time) (billingcycledomain.PhaseCounts, error) {
	res, err := s.invoices.GenerateDue(ctx, target, s.billing.Get().InvoiceLookaheadDays)
	return billingcycledomain.PhaseCounts{
		InvoicesCreated:    res.InvoicesCreated,
		InvoicesIdempotent: res.InvoicesIdempotent,
		PeriodsAdvanced:    res.PeriodsAdvanced,
	}, err
}

func (s *Service) runDunning(ctx context.Context, target time.Time) (billingcycledomain.PhaseCounts, error) {
	res, err := s.dunning.RunDunning(ctx, target)
	return billingcycledomain.PhaseCounts{
		InvoicesMarkedOverdue: res.InvoicesMarkedOverdue,
		DunningApplied:        res.DunningApplied,
	}, err
}

func (s *Service) runTrials(ctx context.Context, target time.Time) (billingcycledomain.PhaseCounts, error) {
	res, err := s.subscriptions.TransitionTrials(ctx, target)
	return billingcycledomain.PhaseCounts{
		TrialsActivated: res.Activated,
		TrialsExpired:   res.Expired,
	}, err
}

func (s *Service) runDelinquency(ctx context.Context, _ time.Time) (billingcycledomain.PhaseCounts, error) {
	reactivated, err := s.dunning.ReactivatePartners(ctx)
	return billingcycledomain.PhaseCounts{PartnersReactivated: reactivated}, err
}
