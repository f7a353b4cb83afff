package taskname

const (
	// Training tasks
	TrainingStatusSync = "training:status:sync"

	// Cleanup tasks
	CleanupZipsRun = "cleanup:zips:run"
)
