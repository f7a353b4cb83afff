package training

import (
	"fmt"
	"strings"

	"photogen-controlplane/services/trainlog"
)

// Advisory ETA baselines, in seconds.
const (
	etaStarting       = 1800
	etaImagePrep      = 1500
	etaModelLoad      = 1200
	etaUploading      = 300
	etaTrainingFloor  = 300
	etaPerStepSeconds = 0.6
)

// Resolve reconciles the three status sources into one UnifiedStatus.
// It is a pure function, never errors, and pushes ambiguity into the
// Error/Diagnostics fields rather than failing.
//
// The cases form an ordered decision list; the first match wins. The
// durable model record outranks the provider, which outranks the job
// queue row.
func Resolve(trainingID, modelName string, src Sources) UnifiedStatus {
	jobQueue := src.JobQueue
	if jobQueue == nil {
		jobQueue = &JobQueueSnapshot{Status: JobUnknown}
	}
	provider := src.Provider
	if provider == nil {
		provider = &ProviderTrainingSnapshot{Status: ProviderUnknown}
	}
	model := src.ModelRecord
	if model == nil {
		model = &ModelRecordSnapshot{}
	}

	logProgress := trainlog.Parse(provider.Logs)

	// The source echo reports what each source actually said; an absent
	// source stays empty rather than reading "unknown".
	var echo SourceEcho
	if src.JobQueue != nil {
		echo.JobQueue = string(src.JobQueue.Status)
	}
	if src.Provider != nil {
		echo.Provider = string(src.Provider.Status)
	}
	if src.ModelRecord != nil {
		echo.ModelRecord = src.ModelRecord.Status
	}

	u := UnifiedStatus{
		TrainingID:      trainingID,
		ModelName:       modelName,
		HuggingFaceRepo: model.HuggingFaceRepo,
		Logs:            provider.Logs,
		Sources:         echo,
		Diagnostics: &Diagnostics{
			LogProgress:     logProgress,
			ProviderError:   provider.Error,
			JobErrorMessage: jobQueue.ErrorMessage,
			CompletedAt:     jobQueue.CompletedAt,
		},
	}

	modelReady := model.Status == string(ModelReady) && model.LoraReadyForInference

	switch {
	// The durable record says the model is usable: done, regardless
	// of what provider or job queue still report.
	case model.HuggingFaceRepo != "" && modelReady:
		u.Status = StateCompleted
		u.Progress = 100
		u.Stage = "Training completed"

	// Provider finished but the repo upload never happened or was
	// never recorded. Actionable by the caller.
	case provider.Status == ProviderSucceeded && model.HuggingFaceRepo == "":
		u.Status = StateUploading
		u.Progress = 90
		u.Stage = "Training finished, upload to HuggingFace pending"
		u.NeedsUpload = true
		u.CanRetryUpload = true

	// Repo exists but the model record has not caught up: upload in
	// flight.
	case provider.Status == ProviderSucceeded:
		u.Status = StateUploading
		u.Progress = 95
		u.Stage = "Uploading model to HuggingFace"

	// Provider failure is terminal.
	case provider.Status == ProviderFailed:
		failTerminal(&u, provider.Error, jobQueue.ErrorMessage, "Training failed")

	// So is cancellation, with its own default message when neither
	// source carried an error.
	case provider.Status == ProviderCanceled:
		failTerminal(&u, provider.Error, jobQueue.ErrorMessage, "Training was canceled")

	// Actively training: stage and progress come from the logs.
	case provider.Status == ProviderProcessing:
		resolveProcessing(&u, logProgress)

	case provider.Status == ProviderStarting:
		u.Status = StateStarting
		u.Progress = 10
		u.Stage = "Starting training environment"

	// No decisive provider signal: fall back to the job queue row.
	default:
		resolveFromJobQueue(&u, jobQueue, model, modelReady)
	}

	u.EstimatedTimeRemaining = estimateTimeRemaining(u.Status, logProgress, u.Progress)

	return u
}

func resolveProcessing(u *UnifiedStatus, logProgress trainlog.Progress) {
	u.Status = StateTraining

	switch logProgress.Stage {
	case trainlog.StageUploadingImages, trainlog.StageLoadingModel:
		u.Progress = logProgress.Progress
		u.Stage = logProgress.StageDescription

	case trainlog.StageTraining:
		// Once steps are running, training is at least 20% along even
		// when the literal log percentage says less; avoids the bar
		// visually resetting early in a step.
		u.Progress = logProgress.Progress
		if u.Progress < 20 {
			u.Progress = 20
		}
		u.Stage = logProgress.StageDescription

	case trainlog.StageCompleted:
		// Logs say done but the provider has not flipped yet.
		u.Progress = 85
		u.Stage = "Preparing model for upload"

	default:
		u.Progress = 40
		u.Stage = "Training in progress. This may take 15-30 minutes."
	}
}

func resolveFromJobQueue(u *UnifiedStatus, jobQueue *JobQueueSnapshot, model *ModelRecordSnapshot, modelReady bool) {
	switch {
	case jobQueue.Status == JobSucceeded && model.HuggingFaceRepo == "":
		u.Status = StateUploading
		u.Progress = 90
		u.Stage = "Training finished, upload to HuggingFace pending"
		u.NeedsUpload = true
		u.CanRetryUpload = true

	case modelReady && model.HuggingFaceRepo != "":
		u.Status = StateCompleted
		u.Progress = 100
		u.Stage = "Training completed"

	case jobQueue.Status == JobRunning || jobQueue.Status == JobPending:
		u.Status = StateTraining
		u.Progress = 30
		u.Stage = "Training in progress"

	// A succeeded job whose repo upload already landed is done even if
	// the model row has not flipped ready yet; the row catches up on
	// the next sync.
	case jobQueue.Status == JobCompleted || jobQueue.Status == JobSucceeded:
		u.Status = StateCompleted
		u.Progress = 100
		u.Stage = "Training completed"

	case jobQueue.Status == JobFailed:
		failTerminal(u, "", jobQueue.ErrorMessage, "Training failed")

	default:
		u.Status = StateStarting
		u.Progress = 5
		u.Stage = "Preparing training"
	}
}

func failTerminal(u *UnifiedStatus, providerError, jobError, fallback string) {
	u.Status = StateFailed
	u.Progress = 0

	// Provider error takes priority over the job queue message.
	u.Error = providerError
	if u.Error == "" {
		u.Error = jobError
	}
	if u.Error == "" {
		u.Error = fallback
	}

	u.FailureStage = ClassifyFailure(providerError, jobError)
	u.Stage = failureStageDescription(u.FailureStage)
}

// failureClassifier is the ordered list of (predicate keywords,
// classification) pairs; the first bucket whose keyword matches wins.
var failureClassifier = []struct {
	keywords []string
	stage    FailureStage
}{
	{[]string{"zip", "image"}, FailureImagePreparation},
	{[]string{"initializing", "setup"}, FailureInitialization},
	{[]string{"training", "lora"}, FailureLoRATraining},
	{[]string{"upload", "huggingface"}, FailureUpload},
}

// ClassifyFailure maps a raw error message onto the pipeline stage where
// the run broke. Keyword search is case-insensitive; the provider error
// is preferred over the job queue message.
func ClassifyFailure(providerError, jobError string) FailureStage {
	message := providerError
	if message == "" {
		message = jobError
	}
	message = strings.ToLower(message)

	for _, bucket := range failureClassifier {
		for _, keyword := range bucket.keywords {
			if strings.Contains(message, keyword) {
				return bucket.stage
			}
		}
	}

	return FailureGeneric
}

func failureStageDescription(stage FailureStage) string {
	switch stage {
	case FailureImagePreparation:
		return "Failed while preparing training images"
	case FailureInitialization:
		return "Failed while initializing training"
	case FailureLoRATraining:
		return "Failed during LoRA training"
	case FailureUpload:
		return "Failed while uploading model to HuggingFace"
	default:
		return "Training failed"
	}
}

func estimateTimeRemaining(state State, logProgress trainlog.Progress, progress int) *int {
	switch state {
	case StateStarting:
		return intPtr(etaStarting)

	case StateTraining:
		switch logProgress.Stage {
		case trainlog.StageUploadingImages:
			return intPtr(etaImagePrep)
		case trainlog.StageLoadingModel:
			return intPtr(etaModelLoad)
		case trainlog.StageTraining:
			if logProgress.TotalSteps > 0 {
				remaining := logProgress.TotalSteps - logProgress.CurrentStep
				eta := int(float64(remaining) * etaPerStepSeconds)
				if eta < 60 {
					eta = 60
				}
				return intPtr(eta)
			}
		}
		eta := int(float64(100-progress) / 60 * 1800)
		if eta < etaTrainingFloor {
			eta = etaTrainingFloor
		}
		return intPtr(eta)

	case StateUploading:
		return intPtr(etaUploading)

	default:
		return nil
	}
}

func intPtr(v int) *int { return &v }

// String renders the raw source statuses for logging.
func (e SourceEcho) String() string {
	return fmt.Sprintf("jobQueue=%s provider=%s model=%s", e.JobQueue, e.Provider, e.ModelRecord)
}
