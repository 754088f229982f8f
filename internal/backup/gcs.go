package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// StorageService abstracts the object store receiving snapshots.
type StorageService interface {
	// Upload writes the object to the bucket.
	Upload(ctx context.Context, bucketName, objectName string, data []byte) error

	// Fetch downloads the object bytes from a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// GCSStorageService is the concrete implementation of StorageService
// backed by Google Cloud Storage. It assumes Application Default
// Credentials are configured.
type GCSStorageService struct{}

// NewGCSStorageService creates a new instance of GCSStorageService.
func NewGCSStorageService() *GCSStorageService {
	return &GCSStorageService{}
}

// Upload writes data to the bucket under the given object name.
func (s *GCSStorageService) Upload(ctx context.Context, bucketName, objectName string, data []byte) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy snapshot to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Fetch downloads the object bytes from the given GCS URI,
// e.g. gs://my-bucket/backups/snapshot.json.
func (s *GCSStorageService) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return nil, fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(parts[0]).Object(parts[1]).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading object %s: %w", uri, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading bytes: %w", err)
	}
	return data, nil
}
