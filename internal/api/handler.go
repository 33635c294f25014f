package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckqa/duckqa/internal/answer"
	"github.com/duckqa/duckqa/internal/config"
	"github.com/duckqa/duckqa/internal/dataset"
	"github.com/duckqa/duckqa/internal/evidence"
	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/report"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

const maxBodyBytes = 64 << 10

type ReadinessCheck func(ctx context.Context) error

// Answerer is satisfied by *answer.Service.
type Answerer interface {
	Answer(ctx context.Context, question answer.Question) evidence.Bundle
	SchemaContext(ctx context.Context) string
	AssistedEnabled() bool
}

// Validator is satisfied by *sqlguard.Guard.
type Validator interface {
	Validate(sql string, opts sqlguard.Options) sqlguard.Report
}

// Reporter is satisfied by *report.Service.
type Reporter interface {
	Report(ctx context.Context, req report.Request) (report.Response, error)
	TableStats(ctx context.Context, table string) (report.TableStats, error)
}

// DatasetManager is satisfied by *dataset.Manager.
type DatasetManager interface {
	Refresh(ctx context.Context) (dataset.Status, error)
	Status() dataset.Status
	Loaded() bool
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Registry          *schema.Registry
	Answers           Answerer
	Guard             Validator
	Reports           Reporter
	Dataset           DatasetManager
	// RefreshTimeout bounds POST /v1/datasource/refresh.
	RefreshTimeout time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	mux.HandleFunc("POST /v1/validate", func(w http.ResponseWriter, r *http.Request) {
		handleValidate(deps, w, r)
	})
	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/report", func(w http.ResponseWriter, r *http.Request) {
		handleReport(deps, w, r)
	})
	mux.HandleFunc("GET /v1/stats/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleTableStats(deps, w, r)
	})
	mux.HandleFunc("POST /v1/datasource/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleRefresh(deps, w, r)
	})
	mux.HandleFunc("GET /v1/datasource/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckDatasetLoaded fails until the first successful refresh.
func CheckDatasetLoaded(manager DatasetManager) ReadinessCheck {
	return func(_ context.Context) error {
		if manager == nil {
			return errors.New("dataset manager is not configured")
		}
		if !manager.Loaded() {
			return errors.New("dataset is not loaded")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Dataset.Source != config.DatasetSourceS3 {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
