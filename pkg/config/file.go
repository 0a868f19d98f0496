package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads the environment configuration and overlays the YAML
// document at path. Keys absent from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend needs.
func (c *Config) Validate() error {
	switch c.MessageStore {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite message store requires sqlite_path")
		}
	default:
		return fmt.Errorf("unknown message store %q", c.MessageStore)
	}

	switch c.TaskStore {
	case "memory", "postgres":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis task store requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown task store %q", c.TaskStore)
	}

	switch c.DataStore {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 data store requires s3_bucket")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("gcs data store requires gcs_bucket")
		}
	default:
		return fmt.Errorf("unknown data store %q", c.DataStore)
	}

	if c.TaskLease <= 0 {
		return fmt.Errorf("task_lease must be positive")
	}
	return nil
}
