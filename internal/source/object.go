package source

import (
	"context"
	"fmt"
	"io"

	"github.com/agleyzer/hlsaudio/internal/storage"
	"github.com/minio/minio-go/v7"
)

// objectStore opens objects for reading.
type objectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type minioStore struct {
	client *minio.Client
}

func (m minioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// ObjectSource fetches s3://bucket/key locations from object storage.
type ObjectSource struct {
	store objectStore
}

// NewObject creates an ObjectSource backed by a MinIO client.
func NewObject(client *minio.Client) *ObjectSource {
	return &ObjectSource{store: minioStore{client: client}}
}

// Fetch downloads the object named by location.
func (s *ObjectSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := storage.ParseLocation(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	obj, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, location, err)
	}
	defer obj.Close()

	// minio reports missing objects on first read, not on open.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, location, err)
	}

	return data, nil
}
