package api

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/duckqa/duckqa/internal/answer"
	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

const maxQuestionRunes = 500

type askRequest struct {
	Question string      `json:"question"`
	Mode     string      `json:"mode"`
	Filters  *askFilters `json:"filters"`
}

type askFilters struct {
	DateRange *dateRange `json:"date_range"`
}

// dateRange is an inclusive pair of ISO dates.
type dateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (d dateRange) period() (intent.Period, error) {
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(d.From))
	if err != nil {
		return intent.Period{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(d.To))
	if err != nil {
		return intent.Period{}, errors.New("to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return intent.Period{}, errors.New("to must not be before from")
	}
	return intent.Period{From: from, To: to}, nil
}

type validateRequest struct {
	SQL    string `json:"sql"`
	Source string `json:"source"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
	sqlguard.Report
}

type schemaResponse struct {
	Tables          []*schema.Table `json:"tables"`
	Joins           []schema.Join   `json:"joins"`
	Context         string          `json:"context,omitempty"`
	AssistedEnabled bool            `json:"assisted_enabled"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Answers == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "answer service is not configured", false, nil)
		return
	}

	var request askRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(request.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if utf8.RuneCountInString(question) > maxQuestionRunes {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_chars": maxQuestionRunes})
		return
	}
	mode, err := answer.ParseMode(request.Mode)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", err.Error(), false, map[string]any{"allowed": []string{string(answer.ModeClassic), string(answer.ModeAssisted)}})
		return
	}

	ask := answer.Question{Text: question, Mode: mode}
	if request.Filters != nil && request.Filters.DateRange != nil {
		period, err := request.Filters.DateRange.period()
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error(), false, nil)
			return
		}
		ask.DateRange = &period
	}

	bundle := deps.Answers.Answer(r.Context(), ask)
	writeJSON(w, http.StatusOK, bundle)
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Guard == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VALIDATE_NOT_CONFIGURED", "sql guard is not configured", false, nil)
		return
	}

	var request validateRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	var source sqlguard.Source
	switch strings.ToLower(strings.TrimSpace(request.Source)) {
	case "", string(sqlguard.SourceLLM):
		source = sqlguard.SourceLLM
	case string(sqlguard.SourceTemplate):
		source = sqlguard.SourceTemplate
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SOURCE", "source must be llm or template", false, nil)
		return
	}

	report := deps.Guard.Validate(request.SQL, sqlguard.Options{Source: source})
	writeJSON(w, http.StatusOK, validateResponse{Valid: report.Valid(), Report: report})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema registry is not configured", false, nil)
		return
	}
	response := schemaResponse{
		Tables: deps.Registry.Tables(),
		Joins:  deps.Registry.Joins(),
	}
	if deps.Answers != nil {
		response.Context = deps.Answers.SchemaContext(r.Context())
		response.AssistedEnabled = deps.Answers.AssistedEnabled()
	}
	writeJSON(w, http.StatusOK, response)
}
