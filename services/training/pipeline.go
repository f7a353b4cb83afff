package training

// PipelineStage is one of the five fixed steps shown in the UI's
// training step indicator.
type PipelineStage string

const (
	StageInitializing     PipelineStage = "initializing"
	StageZipCreation      PipelineStage = "zip_creation"
	StageProviderTraining PipelineStage = "provider_training"
	StageRepoUpload       PipelineStage = "repo_upload"
	StageCompletion       PipelineStage = "completion"
)

// PipelineOrder is the fixed stage ordering.
var PipelineOrder = []PipelineStage{
	StageInitializing,
	StageZipCreation,
	StageProviderTraining,
	StageRepoUpload,
	StageCompletion,
}

type StageProgress string

const (
	StagePending    StageProgress = "pending"
	StageInProgress StageProgress = "in_progress"
	StageDone       StageProgress = "completed"
	StageFailedOut  StageProgress = "failed"
)

// StageState is the per-stage view derived from a UnifiedStatus.
type StageState struct {
	Stage  PipelineStage `json:"stage"`
	Status StageProgress `json:"status"`
	Error  string        `json:"error,omitempty"`
}

func stageIndex(stage PipelineStage) int {
	for i, s := range PipelineOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// failureStageFor maps a failure classification onto the pipeline stage
// that broke.
func failureStageFor(failure FailureStage) PipelineStage {
	switch failure {
	case FailureImagePreparation:
		return StageZipCreation
	case FailureInitialization:
		return StageInitializing
	case FailureLoRATraining:
		return StageProviderTraining
	case FailureUpload:
		return StageRepoUpload
	default:
		return StageProviderTraining
	}
}

// currentStageFor maps the overall state onto the stage currently in
// progress. By the time the provider reports "starting" the zip has
// been built and submitted, so "starting" sits on zip_creation rather
// than initializing.
func currentStageFor(state State) PipelineStage {
	switch state {
	case StateStarting:
		return StageZipCreation
	case StateTraining:
		return StageProviderTraining
	case StateUploading:
		return StageRepoUpload
	default:
		return StageCompletion
	}
}

// StageStatus reports the state of one pipeline stage given the overall
// unified status. On failure, stages before the classified failure
// stage read completed, the failure stage itself reads failed, and
// later stages read pending.
func StageStatus(stage PipelineStage, u UnifiedStatus) StageState {
	state := StageState{Stage: stage}
	idx := stageIndex(stage)

	if u.Status == StateFailed {
		failIdx := stageIndex(failureStageFor(u.FailureStage))
		switch {
		case idx < failIdx:
			state.Status = StageDone
		case idx == failIdx:
			state.Status = StageFailedOut
			state.Error = u.Error
		default:
			state.Status = StagePending
		}
		return state
	}

	if u.Status == StateCompleted {
		state.Status = StageDone
		return state
	}

	currentIdx := stageIndex(currentStageFor(u.Status))
	switch {
	case idx < currentIdx:
		state.Status = StageDone
	case idx == currentIdx:
		state.Status = StageInProgress
		// A pending upload means nothing is actually moving; show the
		// actionable gap instead of a spinner.
		if stage == StageRepoUpload && u.NeedsUpload {
			state.Status = StagePending
		}
	default:
		state.Status = StagePending
	}
	return state
}

// PipelineView returns the state of every stage in order.
func PipelineView(u UnifiedStatus) []StageState {
	states := make([]StageState, 0, len(PipelineOrder))
	for _, stage := range PipelineOrder {
		states = append(states, StageStatus(stage, u))
	}
	return states
}
