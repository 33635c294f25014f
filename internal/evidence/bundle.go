// Package evidence turns a plan, its validation report and its execution
// outcome into the response envelope returned for every question.
package evidence

import (
	"time"

	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/quality"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

type Category string

const (
	CategoryNoMatch          Category = "no_match"
	CategoryValidation       Category = "validation_failure"
	CategoryExecution        Category = "execution_error"
	CategoryExecutionTimeout Category = "execution_timeout"
	CategoryClient           Category = "client_error"
	CategoryEmptyResult      Category = "empty_result"
)

type Error struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

type Badge struct {
	Type     string `json:"type"`
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

// Bundle is the response envelope. Factual fields only ever describe
// validated and executed state.
type Bundle struct {
	ID          string           `json:"id"`
	Intent      string           `json:"intent,omitempty"`
	Mode        string           `json:"mode"`
	Source      sqlguard.Source  `json:"source,omitempty"`
	Params      map[string]any   `json:"params,omitempty"`
	AnswerText  string           `json:"answer_text,omitempty"`
	SQL         string           `json:"sql,omitempty"`
	TablesUsed  []string         `json:"tables_used"`
	RowsScanned int64            `json:"rows_scanned"`
	RowCount    int              `json:"row_count"`
	Columns     []string         `json:"columns,omitempty"`
	SampleRows  []map[string]any `json:"sample_rows"`
	Confidence  float64          `json:"confidence"`
	Validations []sqlguard.Check `json:"validations"`
	FollowUps   []string         `json:"follow_ups"`
	Badges      []Badge          `json:"badges,omitempty"`
	Chart       *Chart           `json:"chart,omitempty"`
	Error       *Error           `json:"error,omitempty"`
	Suggestion  string           `json:"suggestion,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
}

func (b Bundle) Failed() bool {
	return b.Error != nil
}

// Plan is a resolved question: the candidate statement and where it came
// from. It lives for one request.
type Plan struct {
	Intent string
	Mode   string
	Source sqlguard.Source
	Params intent.Params
	SQL    string
	Args   []any
	Limit  int
	// ScanColumn and TotalColumn name window aggregates in the result.
	ScanColumn  string
	TotalColumn string
	// FollowUps are model suggestions on the assisted path.
	FollowUps []string
}

type Input struct {
	Plan    Plan
	Report  sqlguard.Report
	Result  *query.Result
	Err     error
	Quality *quality.Report
	// Timeout is the execution budget the statement ran under.
	Timeout  time.Duration
	Duration time.Duration
}
