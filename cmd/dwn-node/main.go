package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/dwn-core/pkg/config"
	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/dwn"
	"github.com/Mindburn-Labs/dwn-core/pkg/observability"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
	taskstore "github.com/Mindburn-Labs/dwn-core/pkg/store/tasks"
	"github.com/Mindburn-Labs/dwn-core/pkg/tasks"
)

func main() {
	os.Exit(Run(os.Args, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("dwn-node", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML file overlaying the environment configuration")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "dwn-node: %v\n", err)
		return 2
	}
	slog.SetDefault(slog.New(newHandler(cfg, stderr)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("node stopped", "error", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func newHandler(cfg *config.Config, w io.Writer) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", "dwn-node")

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	stores, err := store.OpenStores(store.Backend(cfg.MessageStore), cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	data, err := store.NewDataStore(ctx, store.DataStoreConfig{
		Backend: store.Backend(cfg.DataStore),
		S3:      store.S3Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint},
		GCS:     store.GCSConfig{Bucket: cfg.GCSBucket},
	})
	if err != nil {
		return err
	}

	taskStore, closeTasks, err := openTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTasks()

	resolver, err := loadKeys(cfg.KeysFile)
	if err != nil {
		return err
	}

	node, err := dwn.New(ctx, dwn.Config{
		Messages:      stores.Messages,
		Events:        stores.Events,
		Data:          data,
		Tasks:         taskStore,
		Resolver:      resolver,
		Observability: obs,
		TaskOptions:   tasks.Options{Lease: cfg.TaskLease, BatchSize: cfg.TaskBatch},
	})
	if err != nil {
		return err
	}

	if err := node.ResumeTasks(ctx); err != nil {
		logger.Error("resuming tasks failed", "error", err)
	}

	logger.Info("node ready",
		"message_store", cfg.MessageStore, "task_store", cfg.TaskStore, "data_store", cfg.DataStore)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func openTaskStore(ctx context.Context, cfg *config.Config) (taskstore.Store, func(), error) {
	switch cfg.TaskStore {
	case "postgres":
		db, err := taskstore.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pg := taskstore.NewPostgresStore(db)
		if err := pg.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, func() { _ = db.Close() }, nil
	case "redis":
		rs := taskstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("redis task store: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return taskstore.NewMemoryStore(), func() {}, nil
	}
}

type keyEntry struct {
	ID        string `yaml:"id"`
	PublicKey string `yaml:"public_key"`
}

// loadKeys builds the static resolver from a YAML list of key ids and
// base64 Ed25519 public keys.
func loadKeys(path string) (*crypto.StaticResolver, error) {
	resolver := crypto.NewStaticResolver()
	if path == "" {
		slog.Warn("no keys file configured; every signed message will fail authentication")
		return resolver, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys %q: %w", path, err)
	}
	var entries []keyEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse keys %q: %w", path, err)
	}
	for _, e := range entries {
		pub, err := base64.StdEncoding.DecodeString(e.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("keys %q: invalid public key for %s", path, e.ID)
		}
		resolver.AddKey(e.ID, ed25519.PublicKey(pub))
	}
	return resolver, nil
}
