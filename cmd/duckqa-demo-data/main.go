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
	"github.com/duckqa/duckqa/internal/demo/producer"
	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/storage"
)

func main() {
	demoCfg, err := producer.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo data config", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("duckqa-demo-data")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.ObjectStore
	if demoCfg.Upload {
		store, err = dataset.OpenObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
	}

	service, err := producer.NewService(demoCfg, logger, nil, store)
	if err != nil {
		logger.Error("failed to initialize demo data generator", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info(
		"generating demo dataset",
		slog.String("output_dir", demoCfg.OutputDir),
		slog.Int("customers", demoCfg.Customers),
		slog.Int("orders", demoCfg.Orders),
		slog.Float64("orphan_rate", demoCfg.OrphanRate),
		slog.Int64("seed", demoCfg.Seed),
		slog.Bool("upload", demoCfg.Upload),
	)

	summary, err := service.Run(ctx)
	if err != nil {
		logger.Error("demo data generation failed", slog.Any("error", err))
		os.Exit(1)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(summary)
}
