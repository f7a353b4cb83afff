package cleanup

import (
	"context"
	"strconv"
	"time"

	"photogen-controlplane/pkg/config"

	"github.com/minio/minio-go/v7"
)

// ObjectInfo is one listed storage object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectMetadata carries the optional upload annotations written when a
// training archive is stored.
type ObjectMetadata struct {
	UploadTime *time.Time
	TTLHours   *int
}

// ObjectStorage is the minimal object-store surface the cleanup scan
// needs.
type ObjectStorage interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectMetadata, error)
	Remove(ctx context.Context, key string) error
}

type minioStorage struct {
	client *minio.Client
	bucket string
}

func NewMinioStorage(client *minio.Client, cfg *config.Config) ObjectStorage {
	return &minioStorage{client: client, bucket: cfg.Minio.BucketName}
}

func (s *minioStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return objects, nil
}

func (s *minioStorage) Stat(ctx context.Context, key string) (ObjectMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMetadata{}, err
	}

	var meta ObjectMetadata
	if raw := info.UserMetadata["Upload-Time"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			meta.UploadTime = &ts
		}
	}
	if raw := info.UserMetadata["Ttl-Hours"]; raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil {
			meta.TTLHours = &hours
		}
	}
	return meta, nil
}

func (s *minioStorage) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
