package scheduler

import (
	"context"
	"time"

	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
	obscontext "github.com/smallbiznis/partnerbilling/internal/observability/context"
	obslogger "github.com/smallbiznis/partnerbilling/internal/observability/logger"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	"go.uber.org/zap"
)

type schedulerRun struct {
	runID      string
	startedAt  time.Time
	dates      int
	completed  int
	skipped    int
	errorCount int
}

func (r *schedulerRun) AddDate(result billingcycledomain.RunResult) {
	if r == nil {
		return
	}
	r.dates++
	for _, phase := range result.Phases {
		switch {
		case phase.Error != "":
			r.errorCount++
		case phase.Skipped:
			r.skipped++
		default:
			r.completed++
		}
	}
}

func (r *schedulerRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) startRun(ctx context.Context) (context.Context, *schedulerRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &schedulerRun{
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithActor(ctx, "scheduler", "billing-cycle")
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logRunStart(ctx context.Context, run *schedulerRun) {
	s.logger(ctx).Info("scheduler.run.start",
		zap.String("run_id", run.runID),
		zap.Int("catch_up_days", s.cfg.CatchUpDays),
	)
}

func (s *Scheduler) logRunFinish(ctx context.Context, run *schedulerRun) {
	fields := []zap.Field{
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("dates", run.dates),
		zap.Int("phases_completed", run.completed),
		zap.Int("phases_skipped", run.skipped),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.run.finish", fields...)
		return
	}
	log.Info("scheduler.run.finish", fields...)
}

func (s *Scheduler) logRunError(ctx context.Context, run *schedulerRun, date time.Time, err error) {
	if err == nil {
		return
	}
	run.IncError()
	s.logger(ctx).Error("scheduler.date.failed",
		zap.String("run_id", run.runID),
		zap.String("target_date", date.Format(time.DateOnly)),
		zap.String("error_type", metrics.ClassifyErrorReason(err)),
		zap.Bool("retryable", metrics.IsRetryable(err)),
		zap.Error(err),
	)
}
