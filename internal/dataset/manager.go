package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/quality"
	"github.com/duckqa/duckqa/internal/query/duckdb"
	"github.com/duckqa/duckqa/internal/schema"
)

const versionDirPrefix = "v-"

type ViewLoader interface {
	LoadViews(ctx context.Context, files duckdb.TableFiles) error
}

// QualityMonitor is invalidated after each refresh and then recomputed for
// the status report.
type QualityMonitor interface {
	Invalidate()
	Report(ctx context.Context) (quality.Report, error)
}

// Purger drops cached query results.
type Purger interface {
	Purge()
}

type Dependencies struct {
	Registry *schema.Registry
	Source   Source
	Engine   ViewLoader
	Quality  QualityMonitor
	// Cache is nil when result caching is disabled.
	Cache  Purger
	Logger *slog.Logger
}

type TableStatus struct {
	Name    string   `json:"name"`
	Rows    int64    `json:"rows"`
	Format  Format   `json:"source_format"`
	File    string   `json:"file"`
	Missing []string `json:"missing_columns,omitempty"`
	Ignored []string `json:"ignored_columns,omitempty"`
}

type Status struct {
	Source       string          `json:"source"`
	Loaded       bool            `json:"loaded"`
	Version      string          `json:"version,omitempty"`
	RefreshedAt  *time.Time      `json:"refreshed_at,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Tables       []TableStatus   `json:"tables"`
	MaxOrderDate string          `json:"max_order_date,omitempty"`
	Quality      *quality.Report `json:"quality,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// Manager owns the parquet cache. Each refresh writes a new version
// directory, swaps the views and then removes older versions.
type Manager struct {
	registry *schema.Registry
	source   Source
	engine   ViewLoader
	quality  QualityMonitor
	cache    Purger
	logger   *slog.Logger
	cacheDir string

	now        func() time.Time
	newVersion func() string
	group      singleflight.Group

	mu     sync.RWMutex
	status Status
}

func NewManager(deps Dependencies, cacheDir string) (*Manager, error) {
	if deps.Registry == nil || deps.Source == nil || deps.Engine == nil || deps.Quality == nil {
		return nil, fmt.Errorf("registry, source, engine and quality monitor are required")
	}
	if strings.TrimSpace(cacheDir) == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	cacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:   deps.Registry,
		source:     deps.Source,
		engine:     deps.Engine,
		quality:    deps.Quality,
		cache:      deps.Cache,
		logger:     logger,
		cacheDir:   cacheDir,
		now:        time.Now,
		newVersion: func() string { return uuid.NewString()[:8] },
		status:     Status{Source: deps.Source.Name(), Tables: []TableStatus{}},
	}, nil
}

// Run refreshes on every tick until ctx is done. Failures are logged and
// the previous dataset stays in place.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.logger.ErrorContext(ctx, "scheduled dataset refresh failed", slog.Any("error", err))
			}
		}
	}
}

// Refresh reloads every table. Concurrent callers share one refresh.
func (m *Manager) Refresh(ctx context.Context) (Status, error) {
	value, err, shared := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if shared {
		m.logger.DebugContext(ctx, "dataset refresh shared with in-flight call")
	}
	if err != nil {
		return m.Status(), err
	}
	return value.(Status), nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := m.status
	status.Tables = append([]TableStatus(nil), m.status.Tables...)
	return status
}

func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Loaded
}

func (m *Manager) refresh(ctx context.Context) (Status, error) {
	start := m.now()
	version := m.newVersion()
	outDir := filepath.Join(m.cacheDir, versionDirPrefix+version)
	stagingDir := filepath.Join(m.cacheDir, "staging-"+version)
	defer func() { _ = os.RemoveAll(stagingDir) }()

	tables, err := m.build(ctx, stagingDir, outDir)
	if err != nil {
		_ = os.RemoveAll(outDir)
		return Status{}, m.fail(ctx, start, err)
	}

	files := make(duckdb.TableFiles, len(tables))
	for _, table := range tables {
		files[table.Name] = []string{table.File}
	}
	if err := m.engine.LoadViews(ctx, files); err != nil {
		_ = os.RemoveAll(outDir)
		return Status{}, m.fail(ctx, start, fmt.Errorf("load views: %w", err))
	}
	if m.cache != nil {
		m.cache.Purge()
	}
	m.quality.Invalidate()

	m.prune(ctx, outDir)

	refreshedAt := m.now().UTC()
	status := Status{
		Source:      m.source.Name(),
		Loaded:      true,
		Version:     version,
		RefreshedAt: &refreshedAt,
		Tables:      tables,
	}
	report, err := m.quality.Report(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "quality report unavailable after refresh", slog.Any("error", err))
	} else {
		status.Quality = &report
		if !report.MaxOrderDate.IsZero() {
			status.MaxOrderDate = report.MaxOrderDate.Format(time.DateOnly)
		}
	}

	elapsed := m.now().Sub(start)
	status.DurationMS = elapsed.Milliseconds()
	for _, table := range tables {
		observability.SetDatasetRows(table.Name, table.Rows)
	}
	observability.ObserveDatasetRefresh("ok", elapsed)

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "dataset refreshed",
		slog.String("source", status.Source),
		slog.String("version", version),
		slog.Int("tables", len(tables)),
		slog.Int64("duration_ms", status.DurationMS),
	)
	return status, nil
}

func (m *Manager) build(ctx context.Context, stagingDir, outDir string) ([]TableStatus, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	tables := m.registry.Tables()
	raws, err := m.source.Stage(ctx, tables, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("stage %s source: %w", m.source.Name(), err)
	}
	byTable := make(map[string]RawFile, len(raws))
	for _, raw := range raws {
		byTable[raw.Table] = raw
	}

	converter, err := OpenConverter()
	if err != nil {
		return nil, err
	}
	defer func() { _ = converter.Close() }()

	out := make([]TableStatus, 0, len(tables))
	for _, table := range tables {
		raw, ok := byTable[table.Name]
		if !ok {
			return nil, fmt.Errorf("%w: source returned no file for %s", ErrTableMissing, table.Name)
		}
		conversion, err := converter.Convert(ctx, table, raw, outDir)
		if err != nil {
			return nil, err
		}
		if err := VerifyParquet(conversion.Path, table, conversion.Rows); err != nil {
			return nil, fmt.Errorf("verify %s: %w", table.Name, err)
		}
		if len(conversion.Missing) > 0 || len(conversion.Ignored) > 0 {
			m.logger.WarnContext(ctx, "table headers did not map cleanly",
				slog.String("table", table.Name),
				slog.Any("missing", conversion.Missing),
				slog.Any("ignored", conversion.Ignored),
			)
		}
		out = append(out, TableStatus{
			Name:    table.Name,
			Rows:    conversion.Rows,
			Format:  raw.Format,
			File:    conversion.Path,
			Missing: conversion.Missing,
			Ignored: conversion.Ignored,
		})
	}
	return out, nil
}

// prune removes version directories other than keep, including leftovers
// from earlier processes.
func (m *Manager) prune(ctx context.Context, keep string) {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		m.logger.WarnContext(ctx, "list cache dir failed", slog.Any("error", err))
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), versionDirPrefix) {
			continue
		}
		path := filepath.Join(m.cacheDir, entry.Name())
		if path == keep {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.WarnContext(ctx, "remove stale cache version failed", slog.String("path", path), slog.Any("error", err))
		}
	}
}

func (m *Manager) fail(ctx context.Context, start time.Time, err error) error {
	elapsed := m.now().Sub(start)
	outcome := "error"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "canceled"
	}
	observability.ObserveDatasetRefresh(outcome, elapsed)

	m.mu.Lock()
	m.status.LastError = err.Error()
	m.mu.Unlock()

	m.logger.ErrorContext(ctx, "dataset refresh failed", slog.Any("error", err))
	return err
}
