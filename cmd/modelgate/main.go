// Package main is the entry point for the model gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"modelgate/config"
	"modelgate/internal/blobstore"
	"modelgate/internal/cache"
	"modelgate/internal/core"
	"modelgate/internal/credentials"
	"modelgate/internal/dispatch"
	"modelgate/internal/logging"
	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
	"modelgate/internal/registry"
	"modelgate/internal/server"
	"modelgate/internal/storage"
	"modelgate/internal/transcode"

	// Adapter packages register themselves via init().
	_ "modelgate/internal/providers/anthropic"
	_ "modelgate/internal/providers/gemini"
	_ "modelgate/internal/providers/groq"
	_ "modelgate/internal/providers/openai"
	_ "modelgate/internal/providers/openrouter"
	_ "modelgate/internal/providers/xai"
)

// staticModels are always listed; they have no discovery endpoint.
var staticModels = []core.Model{
	{
		ID:           "gpt-image-1",
		Provider:     "openai",
		Capabilities: []core.Capability{core.CapabilityImageGeneration},
	},
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	// Local development keeps secrets in .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := storage.New(ctx, storageConfig(cfg.Storage))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	cipher, err := credentials.NewAESCipher(cfg.Credentials.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("cipher: %w", err)
	}
	resolver := credentials.NewResolver(store, cipher, cfg.AccountKeys(),
		credentials.WithTTL(cfg.Credentials.CacheTTL),
		credentials.WithLogger(logger))

	adapters := make(map[string]core.Adapter)
	for _, name := range providers.Registered() {
		adapter, err := providers.Create(name, providers.Options{
			BaseURL: cfg.Providers[name].BaseURL,
		})
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		adapters[name] = adapter
	}
	logger.Info("providers registered", "providers", providers.Registered())

	regOpts := []registry.Option{
		registry.WithCatalogTTL(cfg.Registry.CatalogTTL),
		registry.WithStaticModels(staticModels),
		registry.WithLogger(logger),
	}
	if cfg.Registry.MetadataURL != "" {
		metadata, err := modeldata.Fetch(ctx, cfg.Registry.MetadataURL, 30*time.Second)
		if err != nil {
			logger.Warn("model metadata unavailable, catalogs stay unenriched", "error", err)
		} else {
			regOpts = append(regOpts, registry.WithEnricher(metadata.Enrich))
			logger.Info("model metadata loaded", "models", len(metadata.Models))
		}
	}
	snapshots, err := newSnapshotCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if snapshots != nil {
		defer snapshots.Close()
		regOpts = append(regOpts, registry.WithSnapshotCache(snapshots))
	}

	reg := registry.New(adapters, resolver, regOpts...)
	if err := reg.Load(ctx); err != nil {
		logger.Warn("catalog snapshot unavailable, starting cold", "error", err)
	}
	// Warm the catalogs without delaying startup; reads serve the snapshot
	// (or the empty set) until discovery lands.
	go reg.Refresh(context.Background(), "")

	transcoder := transcode.New(
		blobstore.NewFSStore(cfg.Storage.AttachmentsDir),
		transcode.WithLogger(logger))

	dispatcher := dispatch.New(reg, resolver, transcoder,
		dispatch.WithInstructionSource(store),
		dispatch.WithLogger(logger))

	srv := server.New(dispatcher, reg, resolver, store, server.Config{
		MasterKey:           cfg.Server.MasterKey,
		ImagePendingTimeout: cfg.Image.PendingTimeout,
		ImagePartials:       cfg.Image.PartialImages,
		ReadTimeout:         cfg.Server.ReadTimeout,
		WriteTimeout:        cfg.Server.WriteTimeout,
	})

	if cfg.Server.MasterKey == "" {
		logger.Warn("no master key configured, API routes are unauthenticated")
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("starting server", "address", addr)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// storageConfig maps the flat gateway config onto the storage factory's
// shape. "postgres" is accepted as an alias.
func storageConfig(cfg config.StorageConfig) storage.Config {
	backend := cfg.Backend
	if backend == "postgres" {
		backend = storage.TypePostgreSQL
	}
	return storage.Config{
		Type:       backend,
		SQLite:     storage.SQLiteConfig{Path: cfg.SQLitePath},
		PostgreSQL: storage.PostgreSQLConfig{URL: cfg.PostgresDSN},
	}
}

func newSnapshotCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{URL: cfg.RedisURL})
	case "local", "":
		return cache.NewLocalCache(cfg.Path), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}
