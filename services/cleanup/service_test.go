package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"photogen-controlplane/pkg/config"
	"photogen-controlplane/services/testutil"
	"photogen-controlplane/services/training"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type storageMock struct {
	listFn   func(ctx context.Context, prefix string) ([]ObjectInfo, error)
	statFn   func(ctx context.Context, key string) (ObjectMetadata, error)
	removeFn func(ctx context.Context, key string) error

	removed []string
}

func (m *storageMock) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, prefix)
	}
	return nil, nil
}

func (m *storageMock) Stat(ctx context.Context, key string) (ObjectMetadata, error) {
	if m.statFn != nil {
		return m.statFn(ctx, key)
	}
	return ObjectMetadata{}, nil
}

func (m *storageMock) Remove(ctx context.Context, key string) error {
	if m.removeFn != nil {
		if err := m.removeFn(ctx, key); err != nil {
			return err
		}
	}
	m.removed = append(m.removed, key)
	return nil
}

func newTestService(t *testing.T, storage ObjectStorage, dryRun bool) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &training.UserModel{})
	cfg := &config.Config{}
	cfg.Minio.ZipPrefix = "training-zips/"
	cfg.Cleanup.DryRun = dryRun

	return NewService(ServiceParams{DB: db, Storage: storage, Config: cfg})
}

func seedModel(t *testing.T, svc *Service, m training.UserModel) {
	t.Helper()
	require.NoError(t, svc.models.Create(context.Background(), &m))
}

func zipObject(key string, age time.Duration) ObjectInfo {
	return ObjectInfo{Key: key, Size: 1024, LastModified: time.Now().Add(-age)}
}

func TestCleanupKeepsReferencedArchives(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/training-images-tr-1.zip", time.Hour)}, nil
		},
	}
	svc := newTestService(t, storage, false)
	seedModel(t, svc, training.UserModel{ID: "m1", ExternalTrainingID: "tr-1", Status: "training"})

	result, err := svc.CleanupOrphanedZips(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Scanned)
	require.Empty(t, result.Orphans)
	require.Equal(t, 1, result.Summary[ReasonValid])
	require.Empty(t, storage.removed)
}

func TestCleanupFlagsFailedTraining(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/tr-1.zip", time.Hour)}, nil
		},
	}
	svc := newTestService(t, storage, false)
	seedModel(t, svc, training.UserModel{ID: "m1", ExternalTrainingID: "tr-1", Status: string(training.ModelFailed)})

	result, err := svc.CleanupOrphanedZips(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, result.Orphans, 1)
	require.Equal(t, ReasonTrainingFailed, result.Orphans[0].Reason)
	require.True(t, result.Orphans[0].Deleted)
	require.EqualValues(t, 1024, result.FreedBytes)
	require.Equal(t, []string{"training-zips/tr-1.zip"}, storage.removed)
}

func TestCleanupFlagsStaleCompleted(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{
				zipObject("training-zips/training-images-old.zip", 48*time.Hour),
				zipObject("training-zips/training-images-fresh.zip", time.Hour),
			}, nil
		},
	}
	svc := newTestService(t, storage, false)

	stale := time.Now().Add(-36 * time.Hour)
	fresh := time.Now().Add(-2 * time.Hour)
	seedModel(t, svc, training.UserModel{
		ID: "m1", ExternalTrainingID: "old", Status: string(training.ModelReady), TrainingCompletedAt: &stale,
	})
	seedModel(t, svc, training.UserModel{
		ID: "m2", ExternalTrainingID: "fresh", Status: string(training.ModelReady), TrainingCompletedAt: &fresh,
	})

	result, err := svc.CleanupOrphanedZips(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, result.Orphans, 1)
	require.Equal(t, ReasonCompletedStale, result.Orphans[0].Reason)
	require.Equal(t, "training-zips/training-images-old.zip", result.Orphans[0].Key)
	require.Equal(t, 1, result.Summary[ReasonValid])
}

func TestCleanupExpiredByTTL(t *testing.T) {
	uploaded := time.Now().Add(-72 * time.Hour)
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/unknown.zip", 72*time.Hour)}, nil
		},
		statFn: func(ctx context.Context, key string) (ObjectMetadata, error) {
			return ObjectMetadata{UploadTime: &uploaded}, nil
		},
	}
	svc := newTestService(t, storage, false)

	result, err := svc.CleanupOrphanedZips(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, result.Orphans, 1)
	require.Equal(t, ReasonExpired, result.Orphans[0].Reason)
}

func TestCleanupUnmatchedWithinTTL(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/unknown.zip", time.Hour)}, nil
		},
	}
	svc := newTestService(t, storage, false)

	result, err := svc.CleanupOrphanedZips(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, result.Orphans, 1)
	require.Equal(t, ReasonNoModel, result.Orphans[0].Reason)
}

func TestCleanupExactFilenameFallback(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/custom-archive.zip", time.Hour)}, nil
		},
	}
	svc := newTestService(t, storage, false)
	// The filename encodes no known training ID; the model record's
	// stored archive name is the only link.
	seedModel(t, svc, training.UserModel{
		ID: "m1", ExternalTrainingID: "tr-9", Status: "training",
		TrainingZipFilename: "custom-archive.zip",
	})

	result, err := svc.CleanupOrphanedZips(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, result.Orphans)
	require.Equal(t, 1, result.Summary[ReasonValid])
}

func TestCleanupConservativeOnStatError(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/unknown.zip", time.Hour)}, nil
		},
		statFn: func(ctx context.Context, key string) (ObjectMetadata, error) {
			return ObjectMetadata{}, errors.New("metadata unavailable")
		},
	}
	svc := newTestService(t, storage, false)

	result, err := svc.CleanupOrphanedZips(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, result.Orphans)
	require.Equal(t, 1, result.Summary[ReasonValid])
	require.Len(t, result.Errors, 1)
	require.Empty(t, storage.removed)
}

func TestCleanupIgnoresNonZipObjects(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{{Key: "training-zips/readme.txt", Size: 10, LastModified: time.Now()}}, nil
		},
	}
	svc := newTestService(t, storage, false)

	result, err := svc.CleanupOrphanedZips(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, result.Orphans)
}

func TestCleanupDryRunDeletesNothing(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{zipObject("training-zips/unknown.zip", time.Hour)}, nil
		},
	}
	svc := newTestService(t, storage, true)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Len(t, result.Orphans, 1)
	require.False(t, result.Orphans[0].Deleted)
	require.Zero(t, result.FreedBytes)
	require.Empty(t, storage.removed)
}

func TestCleanupDeleteErrorIsolated(t *testing.T) {
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{
				zipObject("training-zips/bad.zip", time.Hour),
				zipObject("training-zips/good.zip", time.Hour),
			}, nil
		},
		removeFn: func(ctx context.Context, key string) error {
			if key == "training-zips/bad.zip" {
				return errors.New("access denied")
			}
			return nil
		},
	}
	svc := newTestService(t, storage, false)

	result, err := svc.CleanupOrphanedZips(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, result.Orphans, 2)
	require.Len(t, result.Errors, 1)
	require.Equal(t, []string{"training-zips/good.zip"}, storage.removed)
}

func TestGetStorageStats(t *testing.T) {
	oldest := time.Now().Add(-90 * time.Hour)
	storage := &storageMock{
		listFn: func(ctx context.Context, prefix string) ([]ObjectInfo, error) {
			return []ObjectInfo{
				{Key: "training-zips/a.zip", Size: 100, LastModified: time.Now()},
				{Key: "training-zips/b.zip", Size: 200, LastModified: oldest},
			}, nil
		},
	}
	svc := newTestService(t, storage, true)

	stats, err := svc.GetStorageStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Objects)
	require.EqualValues(t, 300, stats.TotalBytes)
	require.WithinDuration(t, oldest, *stats.Oldest, time.Second)
}
