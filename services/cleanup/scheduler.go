package cleanup

import (
	"context"
	"time"

	"photogen-controlplane/pkg/task"
	"photogen-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

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
	zap.L().Info("[Scheduler] started zip cleanup scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, 3, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next cleanup scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily()
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily() {
	if _, err := s.enqueuer.Enqueue(asynq.NewTask(taskname.CleanupZipsRun, nil)); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue cleanup", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] enqueued daily zip cleanup")
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
