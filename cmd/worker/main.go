package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"photogen-controlplane/pkg/config"
	"photogen-controlplane/pkg/db"
	"photogen-controlplane/pkg/logger"
	"photogen-controlplane/pkg/minio"
	"photogen-controlplane/pkg/redis"
	"photogen-controlplane/pkg/secretmanager"
	"photogen-controlplane/pkg/task"
	"photogen-controlplane/pkg/taskname"
	"photogen-controlplane/services/cleanup"
	"photogen-controlplane/services/training"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Client,
		task.Client,
		task.Server,
		fx.Provide(
			provideSnowflakeNode,
		),
		training.Module,
		training.SchedulerModule,
		cleanup.Module,
		cleanup.SchedulerModule,
		fx.Invoke(registerHandlers),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHandlers(mux *asynq.ServeMux, trainingSvc *training.Service, cleanupSvc *cleanup.Service) {
	mux.HandleFunc(taskname.TrainingStatusSync, trainingSvc.HandleStatusSyncTask)
	mux.HandleFunc(taskname.CleanupZipsRun, cleanupSvc.HandleCleanupTask)
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
