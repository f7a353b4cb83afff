package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"photogen-controlplane/pkg/config"
	"photogen-controlplane/pkg/db"
	"photogen-controlplane/pkg/huggingface"
	"photogen-controlplane/pkg/logger"
	"photogen-controlplane/services/training"
)

var (
	pattern = flag.String("pattern", "", "only consider repos whose name contains this substring")
	all     = flag.Bool("all", false, "consider every repo owned by the configured user")
	live    = flag.Bool("live", false, "actually delete; default is a dry run")
)

func main() {
	flag.Parse()

	if *pattern == "" && !*all {
		log.Fatal("either -pattern or -all is required")
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		huggingface.Module,
		fx.Invoke(run),
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

// referencedRepos returns every HuggingFace repo a model record still
// points at. These are never deleted, whatever the flags say.
func referencedRepos(ctx context.Context, gdb *gorm.DB) (map[string]bool, error) {
	var repos []string
	err := gdb.WithContext(ctx).Model(&training.UserModel{}).
		Where("huggingface_repo <> ''").
		Pluck("huggingface_repo", &repos).Error
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(repos))
	for _, repo := range repos {
		keep[repo] = true
	}
	return keep, nil
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, client *huggingface.Client, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer shutdowner.Shutdown()

				if err := cleanupRepos(context.Background(), client, gdb); err != nil {
					zap.L().Error("hf cleanup failed", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

func cleanupRepos(ctx context.Context, client *huggingface.Client, gdb *gorm.DB) error {
	keep, err := referencedRepos(ctx, gdb)
	if err != nil {
		return err
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("listed hf repos",
		zap.String("user", client.Username()),
		zap.Int("total", len(models)),
		zap.Int("referenced", len(keep)),
	)

	deleted, skipped := 0, 0
	for _, model := range models {
		if *pattern != "" && !strings.Contains(model.Name(), *pattern) {
			continue
		}
		if keep[model.ID] || keep[model.Name()] {
			skipped++
			zap.L().Info("keeping referenced repo", zap.String("repo", model.ID))
			continue
		}

		if !*live {
			zap.L().Info("would delete repo (dry run)", zap.String("repo", model.ID))
			deleted++
			continue
		}

		if err := client.DeleteRepo(ctx, model.ID); err != nil {
			zap.L().Error("failed to delete repo", zap.String("repo", model.ID), zap.Error(err))
			continue
		}
		zap.L().Info("deleted repo", zap.String("repo", model.ID))
		deleted++
	}

	zap.L().Info("hf cleanup finished",
		zap.Bool("live", *live),
		zap.Int("deleted", deleted),
		zap.Int("kept", skipped),
	)
	return nil
}
