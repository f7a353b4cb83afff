package training

import (
	"context"
	"encoding/json"

	"photogen-controlplane/pkg/task"
	"photogen-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type StatusSyncPayload struct {
	TrainingID string `json:"training_id,omitempty"`
}

// EnqueueStatusSync queues a reconciliation pass. With an empty
// TrainingID the handler sweeps every non-terminal job.
func EnqueueStatusSync(enq task.Enqueuer, p StatusSyncPayload) error {
	payload, _ := json.Marshal(p)
	_, err := enq.Enqueue(asynq.NewTask(taskname.TrainingStatusSync, payload))
	return err
}

// HandleStatusSyncTask reconciles job queue rows against the resolved
// training status.
func (s *Service) HandleStatusSyncTask(ctx context.Context, t *asynq.Task) error {
	var payload StatusSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid status sync payload", zap.Error(err))
		return err
	}

	if payload.TrainingID != "" {
		return s.SyncJobStatus(ctx, payload.TrainingID)
	}

	ids, err := s.ListActiveTrainingIDs(ctx)
	if err != nil {
		return err
	}

	zap.L().Info("syncing active training jobs", zap.Int("count", len(ids)))
	for _, id := range ids {
		if err := s.SyncJobStatus(ctx, id); err != nil {
			zap.L().Error("failed to sync training job",
				zap.String("training_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}
