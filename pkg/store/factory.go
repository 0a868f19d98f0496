package store

import (
	"context"
	"fmt"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
)

// DataStoreConfig selects and configures a DataStore.
type DataStoreConfig struct {
	Backend Backend
	S3      S3Config
	GCS     GCSConfig
}

// NewDataStore builds the configured data store. An empty backend selects
// the in-memory store.
func NewDataStore(ctx context.Context, cfg DataStoreConfig) (DataStore, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryDataStore(), nil
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("store: S3_BUCKET is required for s3 data storage")
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
		return NewS3DataStore(ctx, cfg.S3)
	case BackendGCS:
		return newGCSDataStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("store: unsupported data storage backend: %s", cfg.Backend)
	}
}

// Stores bundles the message store and event log built by OpenStores.
type Stores struct {
	Messages MessageStore
	Events   EventLog
	close    func() error
}

// Close releases the underlying database, if any.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores builds the message store and event log for backend. sqlitePath
// is only consulted for BackendSQLite.
func OpenStores(backend Backend, sqlitePath string) (*Stores, error) {
	switch backend {
	case "", BackendMemory:
		return &Stores{Messages: NewMemoryMessageStore(), Events: NewMemoryEventLog()}, nil
	case BackendSQLite:
		db, err := OpenSQLite(sqlitePath)
		if err != nil {
			return nil, err
		}
		msgs, err := NewSQLiteMessageStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		events, err := NewSQLiteEventLog(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Stores{Messages: msgs, Events: events, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("store: unsupported message storage backend: %s", backend)
	}
}
