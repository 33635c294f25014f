package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/duckqa/duckqa/internal/dataset"
)

func handleRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Dataset == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASET_NOT_CONFIGURED", "dataset manager is not configured", false, nil)
		return
	}

	timeout := deps.RefreshTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status, err := deps.Dataset.Refresh(ctx)
	if err != nil {
		code, httpStatus, retryable := "REFRESH_FAILED", http.StatusInternalServerError, true
		switch {
		case errors.Is(err, dataset.ErrTableMissing):
			code, httpStatus, retryable = "TABLE_FILE_MISSING", http.StatusUnprocessableEntity, false
		case errors.Is(err, context.DeadlineExceeded):
			code, httpStatus = "REFRESH_TIMEOUT", http.StatusGatewayTimeout
		}
		writeError(r.Context(), w, httpStatus, code, "dataset refresh failed", retryable, map[string]any{
			"details": err.Error(),
			"status":  status,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"dataset": status,
	})
}

func handleStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Dataset == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASET_NOT_CONFIGURED", "dataset manager is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Dataset.Status())
}
