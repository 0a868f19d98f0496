// Package config loads node configuration from the environment, optionally
// overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds node configuration.
type Config struct {
	MessageStore string `yaml:"message_store"`
	SQLitePath   string `yaml:"sqlite_path"`

	TaskStore     string        `yaml:"task_store"`
	DatabaseURL   string        `yaml:"database_url"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TaskLease     time.Duration `yaml:"task_lease"`
	TaskBatch     int           `yaml:"task_batch"`

	DataStore  string `yaml:"data_store"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	GCSBucket  string `yaml:"gcs_bucket"`

	// KeysFile lists the DID verification keys the node trusts.
	KeysFile string `yaml:"keys_file"`

	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		MessageStore:  getenv("DWN_MESSAGE_STORE", "memory"),
		SQLitePath:    getenv("DWN_SQLITE_PATH", "dwn.db"),
		TaskStore:     getenv("DWN_TASK_STORE", "memory"),
		DatabaseURL:   getenv("DATABASE_URL", "postgres://dwn@localhost:5432/dwn?sslmode=disable"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataStore:     getenv("DWN_DATA_STORE", "memory"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3Region:      getenv("S3_REGION", "us-east-1"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		GCSBucket:     os.Getenv("GCS_BUCKET"),
		KeysFile:      os.Getenv("DWN_KEYS_FILE"),
		LogLevel:      getenv("LOG_LEVEL", "INFO"),
		LogFormat:     getenv("LOG_FORMAT", "json"),
		OTelEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:  getenv("OTEL_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.RedisDB, err = getint("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.TaskBatch, err = getint("DWN_TASK_BATCH", 100); err != nil {
		return nil, err
	}
	cfg.TaskLease = 60 * time.Second
	if v := os.Getenv("DWN_TASK_LEASE"); v != "" {
		if cfg.TaskLease, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("config: DWN_TASK_LEASE: %w", err)
		}
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
