package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckqa/duckqa/internal/config"
	"github.com/duckqa/duckqa/internal/dataset"
	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/quality"
	duckdbengine "github.com/duckqa/duckqa/internal/query/duckdb"
	"github.com/duckqa/duckqa/internal/schema"
)

// duckqa-refresh loads the configured dataset once, converts it into the
// parquet cache and prints the resulting status and quality report. It
// exits non-zero when any table is missing or unreadable.
func main() {
	cfg, err := config.LoadFromEnv("duckqa-refresh")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := schema.Default()
	if cfg.Schema.RegistryPath != "" {
		registry, err = schema.LoadFile(cfg.Schema.RegistryPath)
		if err != nil {
			logger.Error("failed to load schema registry", slog.String("path", cfg.Schema.RegistryPath), slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := duckdbengine.Open(cfg.Query.MaxConnections)
	if err != nil {
		logger.Error("failed to open duckdb", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	source, closeSource, err := dataset.OpenSource(ctx, cfg)
	if err != nil {
		logger.Error("failed to open dataset source", slog.String("source", cfg.Dataset.Source), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeSource() }()

	manager, err := dataset.NewManager(dataset.Dependencies{
		Registry: registry,
		Source:   source,
		Engine:   db,
		Quality:  quality.NewMonitor(quality.NewChecker(db, registry)),
		Logger:   logger,
	}, cfg.Dataset.CacheDir)
	if err != nil {
		logger.Error("failed to initialize dataset manager", slog.Any("error", err))
		os.Exit(1)
	}

	status, refreshErr := manager.Refresh(ctx)
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		logger.Error("failed to write status", slog.Any("error", err))
		os.Exit(1)
	}
	if refreshErr != nil {
		logger.Error("dataset refresh failed", slog.Any("error", refreshErr))
		os.Exit(1)
	}
}
