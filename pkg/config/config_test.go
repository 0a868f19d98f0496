package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/config"
)

var envKeys = []string{
	"DWN_MESSAGE_STORE", "DWN_SQLITE_PATH", "DWN_TASK_STORE", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "DWN_DATA_STORE", "S3_BUCKET",
	"S3_REGION", "S3_ENDPOINT", "GCS_BUCKET", "DWN_TASK_LEASE", "DWN_TASK_BATCH",
	"DWN_KEYS_FILE", "LOG_LEVEL", "LOG_FORMAT", "OTEL_ENABLED", "OTEL_ENDPOINT",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// A node with no configuration boots entirely in memory.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.MessageStore)
	assert.Equal(t, "memory", cfg.TaskStore)
	assert.Equal(t, "memory", cfg.DataStore)
	assert.Equal(t, 60*time.Second, cfg.TaskLease)
	assert.Equal(t, 100, cfg.TaskBatch)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.OTelEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DWN_MESSAGE_STORE", "sqlite")
	t.Setenv("DWN_SQLITE_PATH", "/var/lib/dwn/node.db")
	t.Setenv("DWN_TASK_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DWN_DATA_STORE", "s3")
	t.Setenv("S3_BUCKET", "records")
	t.Setenv("DWN_TASK_LEASE", "90s")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.MessageStore)
	assert.Equal(t, "/var/lib/dwn/node.db", cfg.SQLitePath)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "records", cfg.S3Bucket)
	assert.Equal(t, 90*time.Second, cfg.TaskLease)
	assert.True(t, cfg.OTelEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_DB", "zero")
	_, err := config.Load()
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("DWN_TASK_LEASE", "soon")
	_, err = config.Load()
	assert.Error(t, err)
}

func TestLoadFile_Overlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
task_store: postgres
database_url: postgres://node@db:5432/dwn
data_store: gcs
gcs_bucket: dwn-records
task_lease: 2m
`), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.TaskStore)
	assert.Equal(t, "postgres://node@db:5432/dwn", cfg.DatabaseURL)
	assert.Equal(t, "gcs", cfg.DataStore)
	assert.Equal(t, 2*time.Minute, cfg.TaskLease)
	assert.Equal(t, "DEBUG", cfg.LogLevel, "keys absent from the file keep the environment value")
	assert.Equal(t, "memory", cfg.MessageStore)
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := config.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("task_store: [unterminated"), 0o600))
	_, err = config.LoadFile(bad)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("data_store: floppy\n"), 0o600))
	_, err = config.LoadFile(unknown)
	assert.ErrorContains(t, err, "unknown data store")

	s3 := filepath.Join(dir, "s3.yaml")
	require.NoError(t, os.WriteFile(s3, []byte("data_store: s3\n"), 0o600))
	_, err = config.LoadFile(s3)
	assert.ErrorContains(t, err, "s3_bucket")
}
