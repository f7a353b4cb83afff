package training

import (
	"context"
	"time"

	"photogen-controlplane/pkg/errutil"
	"photogen-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	providers *ProviderRegistry

	jobs   repository.Repository[TrainingJob]
	models repository.Repository[UserModel]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Providers *ProviderRegistry
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		providers: p.Providers,

		jobs:   repository.ProvideStore[TrainingJob](p.DB),
		models: repository.ProvideStore[UserModel](p.DB),
	}
}

func jobSnapshot(job *TrainingJob) *JobQueueSnapshot {
	if job == nil {
		return nil
	}
	return &JobQueueSnapshot{
		Status:       JobStatusFromString(job.Status),
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}
}

func modelSnapshot(m *UserModel) *ModelRecordSnapshot {
	if m == nil {
		return nil
	}
	return &ModelRecordSnapshot{
		Status:                m.Status,
		HuggingFaceRepo:       m.HuggingFaceRepo,
		LoraReadyForInference: m.LoraReadyForInference,
		TrainingCompletedAt:   m.TrainingCompletedAt,
	}
}

// loadSources gathers the three status inputs for one training run. A
// source that cannot be read is passed through as absent rather than
// failing the whole lookup; the resolver degrades gracefully.
func (s *Service) loadSources(ctx context.Context, trainingID string, opts []zap.Field) (Sources, *UserModel, error) {
	var src Sources

	model, err := s.models.FindOne(ctx, &UserModel{ExternalTrainingID: trainingID})
	if err != nil {
		zap.L().With(opts...).Error("failed to query user model", zap.Error(err))
		return src, nil, err
	}
	src.ModelRecord = modelSnapshot(model)

	job, err := s.jobs.FindOne(ctx, &TrainingJob{ExternalTrainingID: trainingID})
	if err != nil {
		zap.L().With(opts...).Warn("failed to query training job", zap.Error(err))
	}
	src.JobQueue = jobSnapshot(job)

	if model == nil && job == nil {
		return src, nil, errutil.NotFound("training not found", nil)
	}

	providerName := "replicate"
	if job != nil && job.Provider != "" {
		providerName = job.Provider
	} else if model != nil && model.Provider != "" {
		providerName = model.Provider
	}

	client, err := s.providers.Get(providerName)
	if err != nil {
		zap.L().With(opts...).Warn("unknown provider, skipping poll", zap.String("provider", providerName))
		return src, model, nil
	}

	snap, err := client.GetTraining(ctx, trainingID)
	if err != nil {
		zap.L().With(opts...).Warn("provider poll failed", zap.String("provider", providerName), zap.Error(err))
	} else {
		src.Provider = snap
	}
	return src, model, nil
}

// GetTrainingDetails recomputes the unified status for one training run
// from all three sources.
func (s *Service) GetTrainingDetails(ctx context.Context, trainingID string) (*UnifiedStatus, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("training_id", trainingID),
	}

	src, model, err := s.loadSources(ctx, trainingID, opts)
	if err != nil {
		return nil, err
	}

	modelName := ""
	if model != nil {
		modelName = model.Name
	}

	status := Resolve(trainingID, modelName, src)
	return &status, nil
}

// GetTrainingPipeline returns the per-stage view of the training step
// indicator, derived from the same unified status.
func (s *Service) GetTrainingPipeline(ctx context.Context, trainingID string) ([]StageState, error) {
	status, err := s.GetTrainingDetails(ctx, trainingID)
	if err != nil {
		return nil, err
	}
	return PipelineView(*status), nil
}

// SyncJobStatus reconciles one job queue row against the resolved
// status, persisting terminal transitions so the queue converges even
// when no client is polling.
func (s *Service) SyncJobStatus(ctx context.Context, trainingID string) error {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("training_id", trainingID),
	}

	job, err := s.jobs.FindOne(ctx, &TrainingJob{ExternalTrainingID: trainingID})
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	status, err := s.GetTrainingDetails(ctx, trainingID)
	if err != nil {
		return err
	}

	var next string
	switch status.Status {
	case StateCompleted:
		next = string(JobCompleted)
	case StateFailed:
		next = string(JobFailed)
	case StateUploading:
		next = string(JobSucceeded)
	default:
		return nil
	}
	if job.Status == next {
		return nil
	}

	job.Status = next
	if status.Status == StateFailed && status.Error != "" {
		job.ErrorMessage = status.Error
	}
	if status.Status == StateCompleted && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}

	if err := s.jobs.Update(ctx, job.ID, job); err != nil {
		zap.L().With(opts...).Error("failed to update training job", zap.Error(err))
		return err
	}
	zap.L().With(opts...).Info("training job status synced", zap.String("status", next))
	return nil
}

// ListActiveTrainingIDs returns the external training IDs of jobs still
// in a non-terminal state, for the background sync sweep.
func (s *Service) ListActiveTrainingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&TrainingJob{}).
		Where("status IN ?", []string{string(JobPending), string(JobRunning), string(JobSucceeded)}).
		Pluck("external_training_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountActiveModels reports how many models currently occupy a slot in
// the user's plan quota. Ready models and models still training both
// count; only failed ones free their slot.
func (s *Service) CountActiveModels(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("user_id = ? AND status IN ?", userID,
			[]string{string(ModelPending), string(ModelTraining), string(ModelReady)}).
		Count(&count).Error
	return count, err
}
