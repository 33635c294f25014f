package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/report"
)

type reportRequest struct {
	Type    string         `json:"type"`
	Filters *reportFilters `json:"filters"`
}

type reportFilters struct {
	DateRange *dateRange `json:"date_range"`
	K         int        `json:"k"`
}

func handleReport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REPORTS_NOT_CONFIGURED", "report service is not configured", false, nil)
		return
	}

	var request reportRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid report request body", false, map[string]any{"details": err.Error()})
		return
	}
	req := report.Request{Type: strings.TrimSpace(request.Type)}
	if request.Filters != nil {
		if request.Filters.K < 0 || request.Filters.K > 1000 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_K", "k must be within 1..1000", false, nil)
			return
		}
		req.K = request.Filters.K
		if request.Filters.DateRange != nil {
			period, err := request.Filters.DateRange.period()
			if err != nil {
				writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error(), false, nil)
				return
			}
			req.DateRange = &period
		}
	}

	response, err := deps.Reports.Report(r.Context(), req)
	if err != nil {
		writeReportError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleTableStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REPORTS_NOT_CONFIGURED", "report service is not configured", false, nil)
		return
	}
	stats, err := deps.Reports.TableStats(r.Context(), r.PathValue("table"))
	if err != nil {
		writeReportError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeReportError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, report.ErrUnknownType):
		writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_REPORT_TYPE", err.Error(), false, map[string]any{"allowed": report.Types()})
	case errors.Is(err, report.ErrUnknownTable):
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_TABLE", err.Error(), false, nil)
	case errors.Is(err, report.ErrDateRange), errors.Is(err, report.ErrNoGroundingDate):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error(), false, nil)
	case errors.Is(err, query.ErrTimeout):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "report query timed out", true, nil)
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "report failed", "path", r.URL.Path, "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_FAILED", "report query failed", true, nil)
	}
}
