package training

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestResolveModelRecordOutranksProvider(t *testing.T) {
	status := Resolve("tr-1", "portrait", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderFailed, Error: "lora training crashed"},
		ModelRecord: &ModelRecordSnapshot{
			Status:                "ready",
			HuggingFaceRepo:       "user/portrait-lora",
			LoraReadyForInference: true,
		},
	})

	require.Equal(t, StateCompleted, status.Status)
	require.Equal(t, 100, status.Progress)
	require.Equal(t, "user/portrait-lora", status.HuggingFaceRepo)
	require.Empty(t, status.Error)
	require.Nil(t, status.EstimatedTimeRemaining)
}

func TestResolveSucceededWithoutRepoNeedsUpload(t *testing.T) {
	status := Resolve("tr-2", "m", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderSucceeded},
	})

	require.Equal(t, StateUploading, status.Status)
	require.Equal(t, 90, status.Progress)
	require.True(t, status.NeedsUpload)
	require.True(t, status.CanRetryUpload)
	require.NotNil(t, status.EstimatedTimeRemaining)
	require.Equal(t, 300, *status.EstimatedTimeRemaining)
}

func TestResolveSucceededUploadInFlight(t *testing.T) {
	status := Resolve("tr-3", "m", Sources{
		Provider:    &ProviderTrainingSnapshot{Status: ProviderSucceeded},
		ModelRecord: &ModelRecordSnapshot{Status: "training", HuggingFaceRepo: "user/m"},
	})

	require.Equal(t, StateUploading, status.Status)
	require.Equal(t, 95, status.Progress)
	require.False(t, status.NeedsUpload)
}

func TestResolveProviderFailure(t *testing.T) {
	status := Resolve("tr-4", "m", Sources{
		JobQueue: &JobQueueSnapshot{Status: JobRunning, ErrorMessage: "zip build broke"},
		Provider: &ProviderTrainingSnapshot{Status: ProviderFailed, Error: "lora training crashed"},
	})

	require.Equal(t, StateFailed, status.Status)
	require.Equal(t, 0, status.Progress)
	// Provider error wins over the job queue message.
	require.Equal(t, "lora training crashed", status.Error)
	require.Equal(t, FailureLoRATraining, status.FailureStage)
	require.Nil(t, status.EstimatedTimeRemaining)
}

func TestResolveCanceledIsTerminal(t *testing.T) {
	status := Resolve("tr-5", "m", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderCanceled},
	})

	require.Equal(t, StateFailed, status.Status)
	require.Equal(t, "Training was canceled", status.Error)
	require.Equal(t, FailureGeneric, status.FailureStage)
}

func TestResolveCanceledKeepsProviderError(t *testing.T) {
	status := Resolve("tr-5b", "m", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderCanceled, Error: "canceled by operator"},
	})

	require.Equal(t, StateFailed, status.Status)
	require.Equal(t, "canceled by operator", status.Error)
}

func TestResolveProcessingUsesLogProgress(t *testing.T) {
	logs := strings.Join([]string{
		"flux_train_replicate:  45%|####      | 450/1000 [12:30<15:10, 1.66s/it]",
	}, "\n")

	status := Resolve("tr-6", "m", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderProcessing, Logs: logs},
	})

	require.Equal(t, StateTraining, status.Status)
	require.Equal(t, 45, status.Progress)
	require.NotNil(t, status.EstimatedTimeRemaining)
	require.Equal(t, 330, *status.EstimatedTimeRemaining) // 550 steps * 0.6s
}

func TestResolveProcessingFloorsEarlySteps(t *testing.T) {
	status := Resolve("tr-7", "m", Sources{
		Provider: &ProviderTrainingSnapshot{
			Status: ProviderProcessing,
			Logs:   "flux_train_replicate:   3%|          | 30/1000",
		},
	})

	require.Equal(t, StateTraining, status.Status)
	require.Equal(t, 20, status.Progress)
}

func TestResolveProcessingLogsAlreadyComplete(t *testing.T) {
	status := Resolve("tr-8", "m", Sources{
		Provider: &ProviderTrainingSnapshot{
			Status: ProviderProcessing,
			Logs:   "flux_train_replicate: 100%|##########| 1000/1000\nmodel saved to output",
		},
	})

	require.Equal(t, StateTraining, status.Status)
	require.Equal(t, 85, status.Progress)
	require.Equal(t, "Preparing model for upload", status.Stage)
}

func TestResolveProcessingWithoutUsefulLogs(t *testing.T) {
	status := Resolve("tr-9", "m", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderProcessing},
	})

	require.Equal(t, StateTraining, status.Status)
	require.Equal(t, 40, status.Progress)
}

func TestResolveStarting(t *testing.T) {
	status := Resolve("tr-10", "m", Sources{
		Provider: &ProviderTrainingSnapshot{Status: ProviderStarting},
	})

	require.Equal(t, StateStarting, status.Status)
	require.Equal(t, 10, status.Progress)
	require.Equal(t, 1800, *status.EstimatedTimeRemaining)
}

func TestResolveFallsBackToJobQueue(t *testing.T) {
	status := Resolve("tr-11", "m", Sources{
		JobQueue: &JobQueueSnapshot{Status: JobRunning},
	})

	require.Equal(t, StateTraining, status.Status)
	require.Equal(t, 30, status.Progress)
}

func TestResolveJobSucceededWithoutRepo(t *testing.T) {
	status := Resolve("tr-12", "m", Sources{
		JobQueue: &JobQueueSnapshot{Status: JobSucceeded},
	})

	require.Equal(t, StateUploading, status.Status)
	require.True(t, status.NeedsUpload)
}

func TestResolveJobSucceededWithRepoBeforeModelFlips(t *testing.T) {
	status := Resolve("tr-12b", "m", Sources{
		JobQueue:    &JobQueueSnapshot{Status: JobSucceeded},
		ModelRecord: &ModelRecordSnapshot{Status: "training", HuggingFaceRepo: "user/m"},
	})

	require.Equal(t, StateCompleted, status.Status)
	require.Equal(t, 100, status.Progress)
	require.False(t, status.NeedsUpload)
}

func TestResolveJobFailed(t *testing.T) {
	status := Resolve("tr-13", "m", Sources{
		JobQueue: &JobQueueSnapshot{Status: JobFailed, ErrorMessage: "huggingface upload rejected"},
	})

	require.Equal(t, StateFailed, status.Status)
	require.Equal(t, "huggingface upload rejected", status.Error)
	require.Equal(t, FailureUpload, status.FailureStage)
}

func TestResolveNoSources(t *testing.T) {
	status := Resolve("tr-14", "", Sources{})

	require.Equal(t, StateStarting, status.Status)
	require.Equal(t, 5, status.Progress)
	require.Equal(t, "Preparing training", status.Stage)
	require.NotNil(t, status.Diagnostics)
}

func TestClassifyFailureOrder(t *testing.T) {
	// "image" is checked before "training" even when both appear.
	require.Equal(t, FailureImagePreparation, ClassifyFailure("image preprocessing failed during training", ""))
	require.Equal(t, FailureInitialization, ClassifyFailure("error initializing training run", ""))
	require.Equal(t, FailureLoRATraining, ClassifyFailure("", "lora step diverged"))
	require.Equal(t, FailureUpload, ClassifyFailure("HUGGINGFACE API returned 503", ""))
	require.Equal(t, FailureGeneric, ClassifyFailure("out of memory", ""))
}
