package cleanup

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"photogen-controlplane/pkg/config"
	"photogen-controlplane/pkg/repository"
	"photogen-controlplane/services/training"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Retention constants for training archives.
const (
	completedRetention = 24 * time.Hour
	defaultZipTTLHours = 48
)

// Reason is the classification assigned to each scanned archive.
type Reason string

const (
	ReasonValid          Reason = "valid"
	ReasonExpired        Reason = "expired"
	ReasonNoModel        Reason = "no_model"
	ReasonTrainingFailed Reason = "training_failed"
	ReasonCompletedStale Reason = "completed_24h"
)

// IsOrphan reports whether the classification marks the archive for
// deletion.
func (r Reason) IsOrphan() bool {
	return r != ReasonValid
}

// OrphanFile is one archive flagged by the scan.
type OrphanFile struct {
	Key     string `json:"key"`
	Size    int64  `json:"size"`
	Reason  Reason `json:"reason"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// CleanupResult is the aggregate scan report.
type CleanupResult struct {
	DryRun     bool           `json:"dryRun"`
	Scanned    int            `json:"scanned"`
	Orphans    []OrphanFile   `json:"orphans"`
	Summary    map[Reason]int `json:"summary"`
	FreedBytes int64          `json:"freedBytes"`
	Errors     []string       `json:"errors,omitempty"`
}

// StorageStats is the lightweight inventory report for the zip prefix.
type StorageStats struct {
	Objects    int        `json:"objects"`
	TotalBytes int64      `json:"totalBytes"`
	Oldest     *time.Time `json:"oldest,omitempty"`
}

type Service struct {
	storage   ObjectStorage
	models    repository.Repository[training.UserModel]
	zipPrefix string
	dryRun    bool
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Storage ObjectStorage
	Config  *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		storage:   p.Storage,
		models:    repository.ProvideStore[training.UserModel](p.DB),
		zipPrefix: p.Config.Minio.ZipPrefix,
		dryRun:    p.Config.Cleanup.DryRun,
	}
}

// trainingIDFromKey extracts a candidate training ID from the two
// archive naming conventions: "training-images-<id>.zip" and
// "<id>.zip".
func trainingIDFromKey(key string) string {
	name := path.Base(key)
	if !strings.HasSuffix(name, ".zip") {
		return ""
	}
	name = strings.TrimSuffix(name, ".zip")
	if id, ok := strings.CutPrefix(name, "training-images-"); ok {
		return id
	}
	return name
}

// modelIndex holds the two lookup structures the classifier needs: one
// keyed by external training ID, one by the exact archive filename
// stored on the model record.
type modelIndex struct {
	byTrainingID map[string]*training.UserModel
	byFilename   map[string]*training.UserModel
}

func (s *Service) loadModelIndex(ctx context.Context) (*modelIndex, error) {
	models, err := s.models.Find(ctx, &training.UserModel{})
	if err != nil {
		return nil, err
	}

	idx := &modelIndex{
		byTrainingID: make(map[string]*training.UserModel, len(models)),
		byFilename:   make(map[string]*training.UserModel, len(models)),
	}
	for _, m := range models {
		if m.ExternalTrainingID != "" {
			idx.byTrainingID[m.ExternalTrainingID] = m
		}
		if m.TrainingZipFilename != "" {
			idx.byFilename[m.TrainingZipFilename] = m
		}
	}
	return idx, nil
}

// lookup tries both association strategies: training ID extracted from
// the filename first, then an exact filename match on the model record.
func (idx *modelIndex) lookup(key string) *training.UserModel {
	if id := trainingIDFromKey(key); id != "" {
		if m, ok := idx.byTrainingID[id]; ok {
			return m
		}
	}
	name := path.Base(key)
	if m, ok := idx.byFilename[name]; ok {
		return m
	}
	if m, ok := idx.byFilename[key]; ok {
		return m
	}
	return nil
}

// classify assigns exactly one reason to an archive. Anything
// ambiguous resolves to valid and is kept.
func (s *Service) classify(ctx context.Context, obj ObjectInfo, idx *modelIndex, result *CleanupResult) Reason {
	if !strings.HasSuffix(obj.Key, ".zip") {
		return ReasonValid
	}

	if m := idx.lookup(obj.Key); m != nil {
		switch {
		case m.Status == string(training.ModelFailed):
			return ReasonTrainingFailed
		case m.TrainingCompletedAt != nil && time.Since(*m.TrainingCompletedAt) > completedRetention:
			return ReasonCompletedStale
		default:
			return ReasonValid
		}
	}

	// No model found after both strategies. Prefer the explicit TTL
	// signal when the object carries one; otherwise the absence of any
	// association is itself grounds for removal.
	meta, err := s.storage.Stat(ctx, obj.Key)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: stat: %v", obj.Key, err))
		return ReasonValid
	}

	uploaded := obj.LastModified
	if meta.UploadTime != nil {
		uploaded = *meta.UploadTime
	}
	ttl := defaultZipTTLHours
	if meta.TTLHours != nil {
		ttl = *meta.TTLHours
	}
	if time.Since(uploaded) > time.Duration(ttl)*time.Hour {
		return ReasonExpired
	}
	return ReasonNoModel
}

// CleanupOrphanedZips scans the transient archive prefix, classifies
// every object, and in live mode deletes the orphans. Per-object
// failures are recorded and never abort the scan.
func (s *Service) CleanupOrphanedZips(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	result := &CleanupResult{
		DryRun:  dryRun,
		Summary: make(map[Reason]int),
	}

	objects, err := s.storage.List(ctx, s.zipPrefix)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(objects)

	idx, err := s.loadModelIndex(ctx)
	if err != nil {
		return nil, err
	}

	for _, obj := range objects {
		reason := s.classify(ctx, obj, idx, result)
		result.Summary[reason]++
		if !reason.IsOrphan() {
			continue
		}

		orphan := OrphanFile{Key: obj.Key, Size: obj.Size, Reason: reason}
		if !dryRun {
			if err := s.storage.Remove(ctx, obj.Key); err != nil {
				orphan.Error = err.Error()
				result.Errors = append(result.Errors, fmt.Sprintf("%s: delete: %v", obj.Key, err))
			} else {
				orphan.Deleted = true
				result.FreedBytes += obj.Size
			}
		}
		result.Orphans = append(result.Orphans, orphan)
	}

	zap.L().Info("zip cleanup finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", result.Scanned),
		zap.Int("orphans", len(result.Orphans)),
		zap.Int64("freed_bytes", result.FreedBytes),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// Run executes a cleanup pass with the configured dry-run default.
func (s *Service) Run(ctx context.Context) (*CleanupResult, error) {
	return s.CleanupOrphanedZips(ctx, s.dryRun)
}

// GetStorageStats inventories the archive prefix without touching
// anything.
func (s *Service) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	objects, err := s.storage.List(ctx, s.zipPrefix)
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{Objects: len(objects)}
	for _, obj := range objects {
		stats.TotalBytes += obj.Size
		if stats.Oldest == nil || obj.LastModified.Before(*stats.Oldest) {
			ts := obj.LastModified
			stats.Oldest = &ts
		}
	}
	return stats, nil
}
