//go:build !gcp

package store

import (
	"context"
	"fmt"
)

// GCSConfig holds configuration for the GCS data store.
type GCSConfig struct {
	Bucket string
	Prefix string
}

func newGCSDataStore(_ context.Context, _ GCSConfig) (DataStore, error) {
	return nil, fmt.Errorf("store: GCS storage is not enabled in this build (use -tags gcp)")
}
