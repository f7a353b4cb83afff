package cleanup

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type RunPayload struct {
	DryRun *bool `json:"dry_run,omitempty"`
}

// HandleCleanupTask runs one cleanup pass from the worker. The payload
// may override the configured dry-run default.
func (s *Service) HandleCleanupTask(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("invalid cleanup payload", zap.Error(err))
			return err
		}
	}

	dryRun := s.dryRun
	if payload.DryRun != nil {
		dryRun = *payload.DryRun
	}

	_, err := s.CleanupOrphanedZips(ctx, dryRun)
	return err
}
