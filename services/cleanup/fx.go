package cleanup

import (
	"go.uber.org/fx"
)

var Module = fx.Module("cleanup.service",
	fx.Provide(
		NewMinioStorage,
		NewService,
	),
)

// SchedulerModule wires the daily enqueue loop; only the worker binary
// includes it.
var SchedulerModule = fx.Module("cleanup.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
