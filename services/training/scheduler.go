package training

import (
	"context"
	"time"

	"photogen-controlplane/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// How often the worker sweeps non-terminal jobs.
const syncInterval = 2 * time.Minute

type Scheduler struct {
	enqueuer task.Enqueuer
}

func NewScheduler(enq task.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enq}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started training status sync scheduler",
		zap.Duration("interval", syncInterval))

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := EnqueueStatusSync(s.enqueuer, StatusSyncPayload{}); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue status sync", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

var SchedulerModule = fx.Module("training.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
