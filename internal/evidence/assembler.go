package evidence

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

type Config struct {
	SampleRows          int
	OrphanRateThreshold float64
	NullRateThreshold   float64
	StaleAfter          time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRows:          5,
		OrphanRateThreshold: 0.01,
		NullRateThreshold:   0.05,
		StaleAfter:          365 * 24 * time.Hour,
	}
}

const classicRetrySuggestion = "Retry in Classic mode with a supported question, e.g. 'Top 5 products' or 'Revenue last 30 days'."

type Assembler struct {
	cfg   Config
	now   func() time.Time
	newID func() string
}

func NewAssembler(cfg Config) *Assembler {
	defaults := DefaultConfig()
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = defaults.SampleRows
	}
	if cfg.OrphanRateThreshold <= 0 {
		cfg.OrphanRateThreshold = defaults.OrphanRateThreshold
	}
	if cfg.NullRateThreshold <= 0 {
		cfg.NullRateThreshold = defaults.NullRateThreshold
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	return &Assembler{cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// Assemble builds the bundle for a plan that reached validation. Exactly one
// of in.Result or in.Err is expected when the report is valid.
func (a *Assembler) Assemble(in Input) Bundle {
	bundle := a.base(in.Plan.Mode, in.Duration)
	bundle.Intent = in.Plan.Intent
	bundle.Source = in.Plan.Source
	bundle.Params = displayParams(in.Plan.Params)

	if !in.Report.Valid() {
		return a.validationFailure(bundle, in.Report)
	}

	bundle.SQL = displaySQL(in.Report.SQL, in.Plan.Args)
	bundle.TablesUsed = append([]string(nil), in.Report.Tables...)

	if in.Err != nil || in.Result == nil {
		return a.executionFailure(bundle, in)
	}

	report := in.Report.WithCheck(sqlguard.Check{
		Name:    sqlguard.CheckExecutionTimeout,
		Status:  sqlguard.StatusPass,
		Message: fmt.Sprintf("completed within %s", in.Timeout),
	})
	bundle.Validations = report.Checks

	result := *in.Result
	score := newScore(report)
	score.applyQuality(in.Quality, a.cfg, a.now())

	if result.RowCount == 0 || len(result.Rows) == 0 {
		score.penalize(noDataPenalty, Badge{Type: "warning", Label: "No data found", Severity: "high"})
		bundle.Confidence, bundle.Badges = score.result()
		bundle.Error = &Error{Category: CategoryEmptyResult, Message: "no matching rows"}
		bundle.Suggestion = emptySuggestion(in.Plan)
		bundle.FollowUps = staticFollowUps("", nil)
		return bundle
	}

	bundle.RowCount = result.RowCount
	bundle.RowsScanned = rowsScanned(result, in.Plan.ScanColumn)
	bundle.Columns, bundle.SampleRows = samples(result, a.cfg.SampleRows, in.Plan.ScanColumn, in.Plan.TotalColumn)
	bundle.AnswerText = answerText(in.Plan, result, bundle.RowsScanned)
	bundle.FollowUps = followUps(in.Plan, result)
	bundle.Chart = chartFor(in.Plan, result)
	bundle.Confidence, bundle.Badges = score.result()
	return bundle
}

// NoMatch is returned when a classic question resolves to no intent.
func (a *Assembler) NoMatch(mode string, miss intent.NoMatch, elapsed time.Duration) Bundle {
	bundle := a.base(mode, elapsed)
	bundle.Intent = miss.Intent
	bundle.Confidence = minConfidence
	bundle.Error = &Error{Category: CategoryNoMatch, Message: miss.Reason}
	bundle.Suggestion = miss.Suggestion
	bundle.FollowUps = staticFollowUps("", nil)
	return bundle
}

// ClientFailure is returned when the assisted path could not produce a
// candidate statement. It has the same shape as NoMatch.
func (a *Assembler) ClientFailure(mode, reason string, followUps []string, elapsed time.Duration) Bundle {
	bundle := a.base(mode, elapsed)
	bundle.Source = sqlguard.SourceLLM
	bundle.Confidence = minConfidence
	bundle.Error = &Error{Category: CategoryClient, Message: reason}
	bundle.Suggestion = classicRetrySuggestion
	bundle.FollowUps = limitFollowUps(followUps)
	if len(bundle.FollowUps) == 0 {
		bundle.FollowUps = staticFollowUps("", nil)
	}
	return bundle
}

func (a *Assembler) base(mode string, elapsed time.Duration) Bundle {
	return Bundle{
		ID:          a.newID(),
		Mode:        mode,
		TablesUsed:  []string{},
		SampleRows:  []map[string]any{},
		Validations: []sqlguard.Check{},
		FollowUps:   []string{},
		DurationMS:  elapsed.Milliseconds(),
	}
}

func (a *Assembler) validationFailure(bundle Bundle, report sqlguard.Report) Bundle {
	bundle.Validations = append([]sqlguard.Check(nil), report.Checks...)
	failed, _ := report.FirstFailure()
	message := fmt.Sprintf("%s check failed", failed.Name)
	if failed.Message != "" {
		message += ": " + failed.Message
	}
	bundle.Error = &Error{Category: CategoryValidation, Message: message}
	bundle.Suggestion = validationSuggestion(failed.Name)
	bundle.Confidence, bundle.Badges = newScore(report).result()
	return bundle
}

func (a *Assembler) executionFailure(bundle Bundle, in Input) Bundle {
	err := in.Err
	if err == nil {
		err = errors.New("engine returned no result")
	}
	timedOut := errors.Is(err, query.ErrTimeout)

	check := sqlguard.Check{Name: sqlguard.CheckExecutionTimeout, Status: sqlguard.StatusPass, Message: "statement failed before the deadline"}
	if timedOut {
		check.Status = sqlguard.StatusFail
		check.Message = fmt.Sprintf("exceeded %s", in.Timeout)
	}
	report := in.Report.WithCheck(check)
	bundle.Validations = report.Checks
	bundle.Confidence, bundle.Badges = newScore(report).result()

	if timedOut {
		bundle.Error = &Error{Category: CategoryExecutionTimeout, Message: fmt.Sprintf("query did not finish within %s", in.Timeout)}
		bundle.Suggestion = "Narrow the date range or ask for fewer rows."
		return bundle
	}
	bundle.Error = &Error{Category: CategoryExecution, Message: err.Error()}
	bundle.Suggestion = "Try a supported question or adjust its parameters."
	if in.Plan.Source == sqlguard.SourceLLM {
		bundle.Suggestion = classicRetrySuggestion
	}
	return bundle
}

func validationSuggestion(name sqlguard.CheckName) string {
	switch name {
	case sqlguard.CheckStatementShape:
		return "Only single read-only SELECT queries are allowed. Rephrase the question as a lookup."
	case sqlguard.CheckStatementCount:
		return "Ask one question at a time; multiple statements are not allowed."
	case sqlguard.CheckTableWhitelist:
		return "Ask about Customer, Inventory, Detail or Pricelist data only."
	case sqlguard.CheckColumnWhitelist:
		return "Refer only to columns that exist in the dataset. GET /v1/schema lists them."
	default:
		return "Rephrase the question and try again."
	}
}

func emptySuggestion(plan Plan) string {
	switch plan.Intent {
	case intent.RevenueByPeriod:
		return "Widen the date range, e.g. 'Revenue this year'."
	case intent.OrdersByCustomer:
		return "Check the customer id. 'Top 5 customers' lists existing ones."
	case intent.OrdersByCustomerName:
		return "No customer name or email matched. 'Top 5 customers' lists existing ones."
	case intent.OrderDetails:
		return "Check the order id. 'Orders for CID 1001' lists existing orders."
	default:
		return "Broaden the question or remove filters."
	}
}

// displaySQL inlines args for reading. The placeholder form is kept when an
// argument has no literal rendering.
func displaySQL(sql string, args []any) string {
	rendered, err := sqlguard.Interpolate(sql, args)
	if err != nil {
		return sql
	}
	return rendered
}

func displayParams(params intent.Params) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for name, value := range params {
		if t, ok := value.(time.Time); ok {
			out[name] = t.Format(time.DateOnly)
			continue
		}
		out[name] = value
	}
	return out
}

func rowsScanned(result query.Result, column string) int64 {
	if idx := result.Column(column); column != "" && idx >= 0 && len(result.Rows) > 0 {
		if n, ok := toInt64(result.Rows[0][idx]); ok {
			return n
		}
	}
	return int64(result.RowCount)
}

// samples drops the window aggregate columns, which repeat on every row.
func samples(result query.Result, limit int, hidden ...string) ([]string, []map[string]any) {
	skip := make(map[string]bool, len(hidden))
	for _, name := range hidden {
		if name != "" {
			skip[name] = true
		}
	}
	columns := make([]string, 0, len(result.Columns))
	for _, name := range result.Columns {
		if !skip[name] {
			columns = append(columns, name)
		}
	}
	n := min(limit, len(result.Rows))
	rows := make([]map[string]any, 0, n)
	for _, row := range result.Rows[:n] {
		record := make(map[string]any, len(columns))
		for i, name := range result.Columns {
			if skip[name] || i >= len(row) {
				continue
			}
			record[name] = row[i]
		}
		rows = append(rows, record)
	}
	return columns, rows
}
