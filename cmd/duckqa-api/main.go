package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckqa/duckqa/internal/answer"
	"github.com/duckqa/duckqa/internal/api"
	"github.com/duckqa/duckqa/internal/config"
	"github.com/duckqa/duckqa/internal/dataset"
	"github.com/duckqa/duckqa/internal/evidence"
	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/nl2sql"
	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/quality"
	"github.com/duckqa/duckqa/internal/query"
	duckdbengine "github.com/duckqa/duckqa/internal/query/duckdb"
	"github.com/duckqa/duckqa/internal/report"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
	"github.com/duckqa/duckqa/internal/sqltemplate"
)

func main() {
	cfg, err := config.LoadFromEnv("duckqa-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
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
	if err := db.RestrictFileAccess(ctx, cfg.Dataset.CacheDir); err != nil {
		logger.Error("failed to restrict duckdb file access", slog.String("cache_dir", cfg.Dataset.CacheDir), slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := query.NewCachedEngine(db, cfg.Query.CacheSize)
	if err != nil {
		logger.Error("failed to initialize result cache", slog.Any("error", err))
		os.Exit(1)
	}
	monitor := quality.NewMonitor(quality.NewChecker(db, registry))
	guard := sqlguard.New(registry, sqlguard.Config{
		DefaultLimit: cfg.Query.DefaultLimit,
		MaxLimit:     cfg.Query.MaxLimit,
	})
	templates, err := sqltemplate.New(registry)
	if err != nil {
		logger.Error("failed to compile sql templates", slog.Any("error", err))
		os.Exit(1)
	}

	var generator nl2sql.Generator
	if cfg.AI.Enabled {
		generator, err = nl2sql.New(ctx, cfg.AI, logger)
		if err != nil {
			logger.Error("failed to initialize sql generator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	answers, err := answer.NewService(answer.Dependencies{
		Registry:  registry,
		Matcher:   intent.NewMatcher(),
		Templates: templates,
		Guard:     guard,
		Engine:    engine,
		Assembler: evidence.NewAssembler(evidence.Config{
			SampleRows:          cfg.Query.SampleRows,
			OrphanRateThreshold: cfg.Quality.OrphanRateThreshold,
			NullRateThreshold:   cfg.Quality.NullRateThreshold,
			StaleAfter:          cfg.Quality.StaleAfter,
		}),
		Quality:   monitor,
		Generator: generator,
		Logger:    logger,
	}, answer.Config{
		QueryTimeout:     cfg.Query.Timeout,
		SchemaSampleRows: cfg.AI.SchemaSampleRows,
	})
	if err != nil {
		logger.Error("failed to initialize answer service", slog.Any("error", err))
		os.Exit(1)
	}

	reports, err := report.NewService(report.Dependencies{
		Registry:  registry,
		Guard:     guard,
		Engine:    engine,
		Grounding: monitor,
		Logger:    logger,
	}, report.Config{QueryTimeout: cfg.Query.Timeout})
	if err != nil {
		logger.Error("failed to initialize report service", slog.Any("error", err))
		os.Exit(1)
	}

	source, closeSource, err := dataset.OpenSource(ctx, cfg)
	if err != nil {
		logger.Error("failed to open dataset source", slog.String("source", cfg.Dataset.Source), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeSource() }()

	datasetDeps := dataset.Dependencies{
		Registry: registry,
		Source:   source,
		Engine:   db,
		Quality:  monitor,
		Logger:   logger,
	}
	if purger, ok := engine.(dataset.Purger); ok {
		datasetDeps.Cache = purger
	}
	manager, err := dataset.NewManager(datasetDeps, cfg.Dataset.CacheDir)
	if err != nil {
		logger.Error("failed to initialize dataset manager", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Dataset.RefreshOnStart {
		go func() {
			if _, err := manager.Refresh(ctx); err != nil {
				logger.Error("initial dataset refresh failed", slog.Any("error", err))
			}
		}()
	}
	if cfg.Dataset.RefreshInterval > 0 {
		go func() {
			if err := manager.Run(ctx, cfg.Dataset.RefreshInterval); err != nil {
				logger.Error("dataset refresh loop stopped", slog.Any("error", err))
			}
		}()
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger: logger,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatasetLoaded(manager),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
		Registry:          registry,
		Answers:           answers,
		Reports:           reports,
		Guard:             guard,
		Dataset:           manager,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dataset_source", source.Name()),
			slog.Bool("assisted_enabled", answers.AssistedEnabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
