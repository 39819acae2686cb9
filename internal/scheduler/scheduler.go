package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	"github.com/smallbiznis/partnerbilling/internal/ratelimit"
	"github.com/smallbiznis/partnerbilling/internal/scheduler/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	ErrLockHeld      = errors.New("scheduler_lock_held")
)

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	BillingCycle billingcycledomain.Service
	Locker       *ratelimit.Locker       `optional:"true"`
	Metrics      *metrics.BillingMetrics `optional:"true"`
	Config       Config                  `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	billingCycle billingcycledomain.Service
	locker       *ratelimit.Locker
	metrics      *metrics.BillingMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.BillingCycle == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if err := guard.EnsureValidSchedule(cfg.RunInterval, cfg.CatchUpDays, cfg.LockTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		billingCycle: p.BillingCycle,
		locker:       p.Locker,
		metrics:      p.Metrics,
	}, nil
}

// RunOnce triggers the orchestrator for every day in the catch-up window,
// oldest first. Days whose phases already completed are skipped by the
// orchestrator's markers. When another instance holds the run lock the call
// returns ErrLockHeld without doing any work.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, run := s.startRun(parent)

	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			s.logger(ctx).Warn("scheduler.lock.error", zap.String("lock_key", s.cfg.LockKey), zap.Error(err))
			return fmt.Errorf("acquire %s: %w", s.cfg.LockKey, err)
		}
		if !ok {
			s.logger(ctx).Info("scheduler.lock.held", zap.String("lock_key", s.cfg.LockKey))
			return ErrLockHeld
		}
		defer func() {
			// the run context may already be canceled on shutdown
			if err := s.locker.Release(context.WithoutCancel(ctx), s.cfg.LockKey, token); err != nil {
				s.logger(ctx).Warn("scheduler.lock.release_failed", zap.Error(err))
			}
		}()
	}

	s.logRunStart(ctx, run)

	var err error
	for _, date := range s.catchUpDates() {
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
			break
		}
		err = errors.Join(err, s.runDate(ctx, run, date))
	}

	s.logRunFinish(ctx, run)
	return err
}

func (s *Scheduler) runDate(ctx context.Context, run *schedulerRun, date time.Time) error {
	if err := guard.EnsureTargetNotInFuture(date, clock.Day(s.clock.Now())); err != nil {
		return err
	}

	target := date
	result, err := s.billingCycle.Run(ctx, billingcycledomain.RunRequest{TargetDate: &target})
	run.AddDate(result)
	if err != nil {
		s.logRunError(ctx, run, date, err)
		return fmt.Errorf("%s: %w", date.Format(time.DateOnly), err)
	}
	if !result.Success {
		failed := failedPhases(result)
		s.logger(ctx).Warn("scheduler.date.incomplete",
			zap.String("target_date", date.Format(time.DateOnly)),
			zap.String("correlation_id", result.CorrelationID),
			zap.Strings("failed_phases", failed),
		)
		return fmt.Errorf("%s: phases failed: %v", date.Format(time.DateOnly), failed)
	}
	return nil
}

// catchUpDates lists [today - CatchUpDays, today] in ascending order.
func (s *Scheduler) catchUpDates() []time.Time {
	today := clock.Day(s.clock.Now())
	dates := make([]time.Time, 0, s.cfg.CatchUpDays+1)
	for i := s.cfg.CatchUpDays; i >= 0; i-- {
		dates = append(dates, today.AddDate(0, 0, -i))
	}
	return dates
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrLockHeld) {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func failedPhases(result billingcycledomain.RunResult) []string {
	var failed []string
	for _, phase := range result.Phases {
		if phase.Error != "" {
			failed = append(failed, phase.Phase)
		}
	}
	return failed
}
