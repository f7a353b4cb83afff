package training

import (
	"strings"
	"time"

	"photogen-controlplane/services/trainlog"
)

// TrainingJob is the internal work-queue row created when a training run
// is submitted to an external provider.
type TrainingJob struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	UserID             string     `gorm:"column:user_id;index"`
	ModelID            string     `gorm:"column:model_id;index"`
	Provider           string     `gorm:"column:provider"`
	ExternalTrainingID string     `gorm:"column:external_training_id;index"`
	Status             string     `gorm:"column:status"`
	ErrorMessage       string     `gorm:"column:error_message"`
	ZipFileName        string     `gorm:"column:zip_file_name"`
	CompletedAt        *time.Time `gorm:"column:completed_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (TrainingJob) TableName() string { return "training_jobs" }

// UserModel is the durable per-user trained model record. Once it says
// ready-for-inference, it outranks every other status source.
type UserModel struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	UserID                string     `gorm:"column:user_id;index"`
	Name                  string     `gorm:"column:name"`
	Status                string     `gorm:"column:status"`
	Provider              string     `gorm:"column:provider"`
	ExternalTrainingID    string     `gorm:"column:external_training_id;index"`
	HuggingFaceRepo       string     `gorm:"column:huggingface_repo"`
	LoraReadyForInference bool       `gorm:"column:lora_ready_for_inference"`
	TrainingZipFilename   string     `gorm:"column:training_zip_filename"`
	TrainingCompletedAt   *time.Time `gorm:"column:training_completed_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserModel) TableName() string { return "user_models" }

// ModelStatus is the closed form of the user model row's free-text
// status column.
type ModelStatus string

const (
	ModelPending  ModelStatus = "pending"
	ModelTraining ModelStatus = "training"
	ModelReady    ModelStatus = "ready"
	ModelFailed   ModelStatus = "failed"
)

// JobStatus is the closed form of the job queue's free-text status
// column. Raw strings are mapped once, at the snapshot boundary.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobUnknown   JobStatus = "unknown"
)

func JobStatusFromString(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return JobPending
	case "running", "processing", "in_progress":
		return JobRunning
	case "succeeded":
		return JobSucceeded
	case "completed":
		return JobCompleted
	case "failed", "error":
		return JobFailed
	default:
		return JobUnknown
	}
}

// ProviderStatus is the closed form of the external provider's status.
type ProviderStatus string

const (
	ProviderStarting   ProviderStatus = "starting"
	ProviderProcessing ProviderStatus = "processing"
	ProviderSucceeded  ProviderStatus = "succeeded"
	ProviderFailed     ProviderStatus = "failed"
	ProviderCanceled   ProviderStatus = "canceled"
	ProviderUnknown    ProviderStatus = "unknown"
)

func ProviderStatusFromString(s string) ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "starting":
		return ProviderStarting
	case "processing":
		return ProviderProcessing
	case "succeeded":
		return ProviderSucceeded
	case "failed":
		return ProviderFailed
	case "canceled", "cancelled":
		return ProviderCanceled
	default:
		return ProviderUnknown
	}
}

// JobQueueSnapshot is the read-only view of a TrainingJob row.
type JobQueueSnapshot struct {
	Status       JobStatus
	ErrorMessage string
	CompletedAt  *time.Time
}

// ProviderTrainingSnapshot is the status last observed from the external
// training provider. It is re-fetched on every poll and never persisted.
type ProviderTrainingSnapshot struct {
	Status ProviderStatus
	Error  string
	Logs   string
}

// ModelRecordSnapshot is the read-only view of a UserModel row.
type ModelRecordSnapshot struct {
	Status                string
	HuggingFaceRepo       string
	LoraReadyForInference bool
	TrainingCompletedAt   *time.Time
}

// Sources bundles the three status inputs the resolver reconciles.
type Sources struct {
	JobQueue    *JobQueueSnapshot
	Provider    *ProviderTrainingSnapshot
	ModelRecord *ModelRecordSnapshot
}

// State is the unified training state machine:
//
//	starting -> training -> uploading -> completed
//	   \-> failed          \-> failed
type State string

const (
	StateStarting  State = "starting"
	StateTraining  State = "training"
	StateUploading State = "uploading"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// FailureStage classifies where in the pipeline a failed run broke.
type FailureStage string

const (
	FailureImagePreparation FailureStage = "image_preparation"
	FailureInitialization   FailureStage = "initialization"
	FailureLoRATraining     FailureStage = "lora_training"
	FailureUpload           FailureStage = "huggingface_upload"
	FailureGeneric          FailureStage = "training"
)

// SourceEcho carries the raw input statuses for debugging.
type SourceEcho struct {
	JobQueue    string `json:"jobQueue,omitempty"`
	Provider    string `json:"provider,omitempty"`
	ModelRecord string `json:"modelRecord,omitempty"`
}

// Diagnostics is the structured replacement for ad-hoc debug blobs.
type Diagnostics struct {
	LogProgress     trainlog.Progress `json:"logProgress"`
	ProviderError   string            `json:"providerError,omitempty"`
	JobErrorMessage string            `json:"jobErrorMessage,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

// UnifiedStatus is the resolver output: one coherent view assembled from
// the three eventually-consistent sources. Recomputed fresh on every
// poll, never persisted.
type UnifiedStatus struct {
	TrainingID             string        `json:"trainingId"`
	ModelName              string        `json:"modelName"`
	Status                 State         `json:"status"`
	Progress               int           `json:"progress"`
	Stage                  string        `json:"stage"`
	EstimatedTimeRemaining *int          `json:"estimatedTimeRemaining,omitempty"`
	HuggingFaceRepo        string        `json:"huggingFaceRepo,omitempty"`
	Error                  string        `json:"error,omitempty"`
	FailureStage           FailureStage  `json:"failureStage,omitempty"`
	Sources                SourceEcho    `json:"sources"`
	NeedsUpload            bool          `json:"needsUpload"`
	CanRetryUpload         bool          `json:"canRetryUpload"`
	Logs                   string        `json:"logs,omitempty"`
	Diagnostics            *Diagnostics  `json:"debugData,omitempty"`
}
