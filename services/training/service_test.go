package training

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"photogen-controlplane/services/testutil"
)

type providerMock struct {
	name  string
	getFn func(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error)
}

func (m *providerMock) Name() string { return m.name }

func (m *providerMock) GetTraining(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
	if m.getFn != nil {
		return m.getFn(ctx, externalID)
	}
	return nil, nil
}

func newTestService(t *testing.T, providers ...ProviderClient) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &TrainingJob{}, &UserModel{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Providers: NewProviderRegistry(providers...),
	})
}

func TestGetTrainingDetailsNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetTrainingDetails(context.Background(), "missing")
	require.Error(t, err)
}

func TestGetTrainingDetailsPollsProvider(t *testing.T) {
	polled := ""
	svc := newTestService(t, &providerMock{
		name: "replicate",
		getFn: func(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
			polled = externalID
			return &ProviderTrainingSnapshot{Status: ProviderProcessing}, nil
		},
	})

	require.NoError(t, svc.jobs.Create(context.Background(), &TrainingJob{
		ID: "job-1", UserID: "u1", Provider: "replicate",
		ExternalTrainingID: "tr-1", Status: "running",
	}))

	status, err := svc.GetTrainingDetails(context.Background(), "tr-1")
	require.NoError(t, err)
	require.Equal(t, "tr-1", polled)
	require.Equal(t, StateTraining, status.Status)
	require.Equal(t, "running", status.Sources.JobQueue)
	require.Equal(t, "processing", status.Sources.Provider)
}

func TestGetTrainingDetailsSurvivesProviderOutage(t *testing.T) {
	svc := newTestService(t, &providerMock{
		name: "replicate",
		getFn: func(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
			return nil, errors.New("connection refused")
		},
	})

	require.NoError(t, svc.jobs.Create(context.Background(), &TrainingJob{
		ID: "job-1", Provider: "replicate", ExternalTrainingID: "tr-1", Status: "running",
	}))

	status, err := svc.GetTrainingDetails(context.Background(), "tr-1")
	require.NoError(t, err)
	require.Equal(t, StateTraining, status.Status)
	require.Empty(t, status.Sources.Provider)
}

func TestGetTrainingDetailsModelNameFromRecord(t *testing.T) {
	svc := newTestService(t, &providerMock{name: "together"})

	require.NoError(t, svc.models.Create(context.Background(), &UserModel{
		ID: "m-1", UserID: "u1", Name: "portrait", Provider: "together",
		ExternalTrainingID:    "tr-2",
		Status:                "ready",
		HuggingFaceRepo:       "user/portrait-lora",
		LoraReadyForInference: true,
	}))

	status, err := svc.GetTrainingDetails(context.Background(), "tr-2")
	require.NoError(t, err)
	require.Equal(t, "portrait", status.ModelName)
	require.Equal(t, StateCompleted, status.Status)
}

func TestSyncJobStatusPersistsTerminalState(t *testing.T) {
	svc := newTestService(t, &providerMock{
		name: "replicate",
		getFn: func(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
			return &ProviderTrainingSnapshot{Status: ProviderFailed, Error: "lora training crashed"}, nil
		},
	})

	require.NoError(t, svc.jobs.Create(context.Background(), &TrainingJob{
		ID: "job-1", Provider: "replicate", ExternalTrainingID: "tr-1", Status: "running",
	}))

	require.NoError(t, svc.SyncJobStatus(context.Background(), "tr-1"))

	job, err := svc.jobs.FindOne(context.Background(), &TrainingJob{ID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "failed", job.Status)
	require.Equal(t, "lora training crashed", job.ErrorMessage)
}

func TestSyncJobStatusSetsCompletedAt(t *testing.T) {
	svc := newTestService(t, &providerMock{name: "replicate"})

	require.NoError(t, svc.jobs.Create(context.Background(), &TrainingJob{
		ID: "job-1", Provider: "replicate", ExternalTrainingID: "tr-1", Status: "running",
	}))
	require.NoError(t, svc.models.Create(context.Background(), &UserModel{
		ID: "m-1", ExternalTrainingID: "tr-1",
		Status: "ready", HuggingFaceRepo: "user/m", LoraReadyForInference: true,
	}))

	require.NoError(t, svc.SyncJobStatus(context.Background(), "tr-1"))

	job, err := svc.jobs.FindOne(context.Background(), &TrainingJob{ID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "completed", job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestSyncJobStatusNoopWhileRunning(t *testing.T) {
	svc := newTestService(t, &providerMock{
		name: "replicate",
		getFn: func(ctx context.Context, externalID string) (*ProviderTrainingSnapshot, error) {
			return &ProviderTrainingSnapshot{Status: ProviderProcessing}, nil
		},
	})

	require.NoError(t, svc.jobs.Create(context.Background(), &TrainingJob{
		ID: "job-1", Provider: "replicate", ExternalTrainingID: "tr-1", Status: "running",
	}))

	require.NoError(t, svc.SyncJobStatus(context.Background(), "tr-1"))

	job, err := svc.jobs.FindOne(context.Background(), &TrainingJob{ID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "running", job.Status)
}

func TestListActiveTrainingIDs(t *testing.T) {
	svc := newTestService(t)

	rows := []*TrainingJob{
		{ID: "1", ExternalTrainingID: "tr-a", Status: "pending"},
		{ID: "2", ExternalTrainingID: "tr-b", Status: "running"},
		{ID: "3", ExternalTrainingID: "tr-c", Status: "completed"},
		{ID: "4", ExternalTrainingID: "tr-d", Status: "failed"},
	}
	require.NoError(t, svc.jobs.BatchCreate(context.Background(), rows))

	ids, err := svc.ListActiveTrainingIDs(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tr-a", "tr-b"}, ids)
}

func TestCountActiveModels(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.models.BatchCreate(context.Background(), []*UserModel{
		{ID: "1", UserID: "u1", Status: string(ModelReady)},
		{ID: "2", UserID: "u1", Status: string(ModelTraining)},
		{ID: "3", UserID: "u1", Status: string(ModelFailed)},
		{ID: "4", UserID: "u2", Status: string(ModelReady)},
	}))

	count, err := svc.CountActiveModels(context.Background(), "u1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestCountActiveModelsSeesReadyModel(t *testing.T) {
	svc := newTestService(t)

	// Exactly the shape the resolver reports as completed.
	require.NoError(t, svc.models.Create(context.Background(), &UserModel{
		ID: "1", UserID: "u1", Status: "ready",
		HuggingFaceRepo: "user/model", LoraReadyForInference: true,
	}))

	count, err := svc.CountActiveModels(context.Background(), "u1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
