package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tm2bridge/ingest/internal/config"
	"github.com/tm2bridge/ingest/internal/ingest"
	"github.com/tm2bridge/ingest/internal/logging"
	"github.com/tm2bridge/ingest/internal/record"
	"github.com/tm2bridge/ingest/internal/registry"
	"github.com/tm2bridge/ingest/internal/storage"
	"github.com/tm2bridge/ingest/internal/watch"
	"github.com/tm2bridge/ingest/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"chunk_size", cfg.Ingest.ChunkSize,
		"strict_dates", cfg.Ingest.StrictDates,
		"watcher_enabled", cfg.Watch.Enabled,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	// Pick the storage backend: Postgres when configured, memory otherwise.
	var store ingest.Store
	if cfg.Database.URL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("failed to parse database URL", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database")
		}

		pgStore, err := storage.NewPGStore(ctx, pool)
		if err != nil {
			slog.Error("failed to prepare storage", "error", err)
			os.Exit(1)
		}
		store = pgStore
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		store = storage.NewMemStore()
	}

	// Registry client. A failed init is not fatal; submissions will fail
	// per record and the health endpoint reports the registry as down.
	client := registry.NewClient(registry.Config{
		BaseURL:  cfg.Registry.BaseURL,
		Username: cfg.Registry.Username,
		Password: cfg.Registry.Password,
		Timeout:  cfg.Registry.Timeout,
	})
	if err := client.Init(ctx); err != nil {
		slog.Warn("registry unavailable at startup", "error", err)
	} else {
		slog.Info("registry connected", "base_url", cfg.Registry.BaseURL)
	}

	// Synonym tables, with optional overrides from file
	synonyms := record.DefaultSynonyms()
	if cfg.Ingest.SynonymsFile != "" {
		if err := synonyms.LoadFile(cfg.Ingest.SynonymsFile); err != nil {
			slog.Error("failed to load synonyms file", "error", err)
			os.Exit(1)
		}
		slog.Info("loaded synonym overrides", "file", cfg.Ingest.SynonymsFile)
	}

	service := ingest.NewService(store, client, ingest.Options{
		ChunkSize: cfg.Ingest.ChunkSize,
		Normalizer: record.NewNormalizer(record.NormalizerOptions{
			StrictDates: cfg.Ingest.StrictDates,
			Synonyms:    synonyms,
		}),
	})

	server := web.NewServer(service, cfg)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Watch.Enabled {
		watcher, err := watch.New(service, watch.Options{
			Dir:          cfg.Watch.Dir,
			ProcessedDir: cfg.Watch.ProcessedDir,
			SettleDelay:  cfg.Watch.SettleDelay,
		})
		if err != nil {
			slog.Error("failed to create watcher", "error", err)
			os.Exit(1)
		}
		if err := watcher.Backfill(jobCtx); err != nil {
			slog.Warn("intake backfill failed", "error", err)
		}
		go func() {
			if err := watcher.Run(jobCtx); err != nil && jobCtx.Err() == nil {
				slog.Error("watcher stopped", "error", err)
			}
		}()
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
