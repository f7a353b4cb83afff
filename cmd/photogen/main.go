package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"photogen-controlplane/internal/httpapi"
	"photogen-controlplane/pkg/config"
	"photogen-controlplane/pkg/db"
	"photogen-controlplane/pkg/health"
	"photogen-controlplane/pkg/logger"
	"photogen-controlplane/pkg/minio"
	"photogen-controlplane/pkg/otelcol"
	"photogen-controlplane/pkg/otelcol/exporters"
	"photogen-controlplane/pkg/redis"
	"photogen-controlplane/pkg/secretmanager"
	"photogen-controlplane/pkg/server"
	"photogen-controlplane/services/cleanup"
	"photogen-controlplane/services/credits"
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
		health.Module,
		fx.Provide(
			provideTraceExporter,
			otelcol.ProvideTrace,
			provideSnowflakeNode,
		),
		training.Module,
		credits.Module,
		cleanup.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fx.Invoke(
			registerTracing,
			registerHealthRoutes,
		),
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

func registerHealthRoutes(engine *gin.Engine, h health.HealthService) {
	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
}

func provideTraceExporter(cfg *config.Config) (sdktrace.SpanExporter, error) {
	if cfg.Otel.Protocol == "http" {
		return exporters.ProvideHttp(cfg)
	}
	return exporters.ProvideGrpc(cfg)
}

func registerTracing(lc fx.Lifecycle, tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: tp.Shutdown,
	})
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
