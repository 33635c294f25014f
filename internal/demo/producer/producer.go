// Package producer writes a seeded demo dataset (Customer, Inventory,
// Detail and Pricelist CSVs) and optionally publishes it.
package producer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/duckqa/duckqa/internal/dataset"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/storage"
)

type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	store     storage.ObjectStore
	registry  *schema.Registry
	generator *Generator
}

type Summary struct {
	Files    []string             `json:"files"`
	Rows     map[string]int       `json:"rows"`
	Orphans  int                  `json:"orphans"`
	Uploaded []storage.ObjectInfo `json:"uploaded,omitempty"`
	Refresh  json.RawMessage      `json:"refresh,omitempty"`
}

// NewService accepts a nil store when Upload is disabled.
func NewService(cfg Config, logger *slog.Logger, client *http.Client, store storage.ObjectStore) (*Service, error) {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if cfg.Upload && store == nil {
		return nil, fmt.Errorf("object store is required when upload is enabled")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		store:     store,
		registry:  schema.Default(),
		generator: NewGenerator(cfg),
	}, nil
}

func (s *Service) Run(ctx context.Context) (Summary, error) {
	ds := s.generator.Generate()
	summary := Summary{Rows: map[string]int{}, Orphans: ds.Orphans}

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}
	for _, table := range ds.Tables() {
		path, err := writeTable(s.cfg.OutputDir, table)
		if err != nil {
			return summary, err
		}
		summary.Files = append(summary.Files, path)
		summary.Rows[table.Name] = len(table.Rows)
		s.log.Info("wrote demo table", slog.String("table", table.Name), slog.Int("rows", len(table.Rows)), slog.String("path", path))
	}

	if s.cfg.Upload {
		uploaded, err := dataset.Upload(ctx, dataset.NewLocalSource(s.cfg.OutputDir), s.store, s.registry.Tables(), s.cfg.OutputDir)
		if err != nil {
			return summary, fmt.Errorf("upload demo tables: %w", err)
		}
		summary.Uploaded = uploaded
		s.log.Info("uploaded demo tables", slog.Int("objects", len(uploaded)))
	}

	if s.cfg.APIBaseURL != "" {
		body, err := s.refresh(ctx)
		if err != nil {
			return summary, err
		}
		summary.Refresh = body
	}
	return summary, nil
}

func writeTable(dir string, table Table) (string, error) {
	path := filepath.Join(dir, table.Name+".csv")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(table.Header); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write %s header: %w", table.Name, err)
	}
	if err := writer.WriteAll(table.Rows); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write %s rows: %w", table.Name, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func (s *Service) refresh(ctx context.Context) (json.RawMessage, error) {
	status, body, err := s.doRequest(ctx, http.MethodPost, "/v1/datasource/refresh")
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("refresh request status %d: %s", status, strings.TrimSpace(string(body)))
	}
	s.log.Info("requested dataset refresh", slog.String("api_url", s.cfg.APIBaseURL))
	return json.RawMessage(bytes.TrimSpace(body)), nil
}

func (s *Service) doRequest(ctx context.Context, method, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
