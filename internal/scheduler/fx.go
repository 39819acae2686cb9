package scheduler

import (
	"context"

	"github.com/smallbiznis/partnerbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// NewScheduler starts the run loop when this process owns the billing cycle.
func NewScheduler(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, sched *Scheduler) {
	if !cfg.RunsScheduler() {
		log.Info("scheduler disabled for this process", zap.String("mode", cfg.Mode))
		return
	}

	var cancel context.CancelFunc
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
