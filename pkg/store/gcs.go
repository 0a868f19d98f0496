//go:build gcp

package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSDataStore keeps record payloads in a Google Cloud Storage bucket.
type GCSDataStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSDataStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

func NewGCSDataStore(ctx context.Context, cfg GCSConfig) (*GCSDataStore, error) {
	// Application default credentials.
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: create GCS client: %w", err)
	}
	return &GCSDataStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSDataStore) object(tenant, recordID, dataCID string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + dataKey(tenant, recordID, dataCID))
}

func (s *GCSDataStore) Put(ctx context.Context, tenant, recordID, dataCID string, data []byte) error {
	w := s.object(tenant, recordID, dataCID).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("store: gcs write %s: %w", dataCID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("store: gcs close %s: %w", dataCID, err)
	}
	return nil
}

func (s *GCSDataStore) Get(ctx context.Context, tenant, recordID, dataCID string) ([]byte, error) {
	r, err := s.object(tenant, recordID, dataCID).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: gcs read %s: %w", dataCID, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

func (s *GCSDataStore) Delete(ctx context.Context, tenant, recordID, dataCID string) error {
	err := s.object(tenant, recordID, dataCID).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("store: gcs delete %s: %w", dataCID, err)
	}
	return nil
}

func newGCSDataStore(ctx context.Context, cfg GCSConfig) (DataStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("store: GCS_BUCKET is required for gcs data storage")
	}
	return NewGCSDataStore(ctx, cfg)
}
