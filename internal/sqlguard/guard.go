package sqlguard

import (
	"fmt"
	"strings"

	"github.com/duckqa/duckqa/internal/schema"
)

type Source string

const (
	SourceTemplate Source = "template"
	SourceLLM      Source = "llm"
)

type CheckName string

const (
	CheckStatementShape      CheckName = "statement_shape"
	CheckStatementCount      CheckName = "statement_count"
	CheckTableWhitelist      CheckName = "table_whitelist"
	CheckColumnWhitelist     CheckName = "column_whitelist"
	CheckBoundedRows         CheckName = "bounded_rows"
	CheckExecutionTimeout    CheckName = "execution_timeout"
	CheckVendorNormalization CheckName = "vendor_normalization"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

type Check struct {
	Name    CheckName `json:"name"`
	Status  Status    `json:"status"`
	Message string    `json:"message,omitempty"`
}

func (c Check) Passed() bool {
	return c.Status == StatusPass
}

// Report is the outcome of validating one candidate statement. SQL holds the
// rewritten, bounded statement and is empty unless the report is valid.
type Report struct {
	Source Source   `json:"source"`
	Checks []Check  `json:"checks"`
	SQL    string   `json:"rewritten_sql,omitempty"`
	Tables []string `json:"tables,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// blockingChecks decide overall validity.
var blockingChecks = map[CheckName]bool{
	CheckStatementShape:  true,
	CheckStatementCount:  true,
	CheckTableWhitelist:  true,
	CheckColumnWhitelist: true,
}

func (r Report) Valid() bool {
	seen := 0
	for _, check := range r.Checks {
		if !blockingChecks[check.Name] {
			continue
		}
		if !check.Passed() {
			return false
		}
		seen++
	}
	return seen == len(blockingChecks)
}

// FirstFailure returns the earliest failed check.
func (r Report) FirstFailure() (Check, bool) {
	for _, check := range r.Checks {
		if !check.Passed() {
			return check, true
		}
	}
	return Check{}, false
}

func (r Report) Failed() []Check {
	var out []Check
	for _, check := range r.Checks {
		if !check.Passed() {
			out = append(out, check)
		}
	}
	return out
}

// WithCheck returns a copy of the report with check appended.
func (r Report) WithCheck(check Check) Report {
	checks := make([]Check, 0, len(r.Checks)+1)
	checks = append(checks, r.Checks...)
	checks = append(checks, check)
	r.Checks = checks
	return r
}

type Config struct {
	DefaultLimit int
	MaxLimit     int
}

type Options struct {
	Source       Source
	DefaultLimit int
	MaxLimit     int
}

type Guard struct {
	registry     *schema.Registry
	defaultLimit int
	maxLimit     int
}

func New(registry *schema.Registry, cfg Config) *Guard {
	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Guard{registry: registry, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

func (g *Guard) MaxLimit() int {
	return g.maxLimit
}

// Validate runs every static check against sql and never executes it. All
// checks are attempted so the report explains every problem at once.
func (g *Guard) Validate(sql string, opts Options) Report {
	source := opts.Source
	if source == "" {
		source = SourceTemplate
	}
	maxLimit := g.maxLimit
	if opts.MaxLimit > 0 && opts.MaxLimit < maxLimit {
		maxLimit = opts.MaxLimit
	}
	defaultLimit := g.defaultLimit
	if opts.DefaultLimit > 0 {
		defaultLimit = opts.DefaultLimit
	}

	report := Report{Source: source}
	candidate := strings.TrimSpace(sql)

	var normalization Check
	if source == SourceLLM {
		normalized, rules, err := normalizeVendorSQL(candidate)
		switch {
		case err != nil:
			normalization = Check{Name: CheckVendorNormalization, Status: StatusPass, Message: "skipped: statement could not be tokenized"}
		case len(rules) == 0:
			normalization = Check{Name: CheckVendorNormalization, Status: StatusPass, Message: "no vendor idioms found"}
		default:
			candidate = normalized
			normalization = Check{Name: CheckVendorNormalization, Status: StatusPass, Message: "applied: " + strings.Join(rules, ", ")}
		}
	}
	appendNormalization := func(r Report) Report {
		if source == SourceLLM {
			r.Checks = append(r.Checks, normalization)
		}
		return r
	}

	if candidate == "" {
		report.Checks = notEvaluated("empty statement")
		return appendNormalization(report)
	}
	tokens, err := lex(candidate)
	if err != nil {
		report.Checks = notEvaluated(err.Error())
		return appendNormalization(report)
	}

	shape := checkShape(tokens, source)
	count, body := checkCount(tokens)
	toks := stripComments(body)

	a := analyze(g.registry, toks)
	tableCheck := Check{Name: CheckTableWhitelist, Status: StatusPass}
	switch {
	case len(a.tableErrs) > 0:
		tableCheck.Status = StatusFail
		tableCheck.Message = strings.Join(a.tableErrs, "; ")
	case len(a.tables) == 0:
		tableCheck.Status = StatusFail
		tableCheck.Message = "statement references no dataset table"
	default:
		tableCheck.Message = "tables: " + strings.Join(a.tableNames(), ", ")
	}
	columnCheck := Check{Name: CheckColumnWhitelist, Status: StatusPass, Message: "all column references resolved"}
	if len(a.columnErrs) > 0 {
		columnCheck.Status = StatusFail
		columnCheck.Message = strings.Join(a.columnErrs, "; ")
	} else if len(a.rewrites) > 0 {
		columnCheck.Message = fmt.Sprintf("all column references resolved; %d alias(es) mapped to canonical names", len(a.rewrites))
	}

	report.Checks = []Check{shape, count, tableCheck, columnCheck}
	report.Tables = a.tableNames()

	if !report.Valid() {
		report.Checks = append(report.Checks, Check{Name: CheckBoundedRows, Status: StatusFail, Message: "not evaluated: statement rejected"})
		return appendNormalization(report)
	}

	rewritten := render(candidate, toks, a.rewrites)
	bounded, limit, message, err := boundRows(rewritten, defaultLimit, maxLimit)
	if err != nil {
		report.Checks = append(report.Checks, Check{Name: CheckBoundedRows, Status: StatusFail, Message: err.Error()})
		report.Checks[0] = Check{Name: CheckStatementShape, Status: StatusFail, Message: "rewritten statement could not be tokenized"}
		return appendNormalization(report)
	}
	report.Checks = append(report.Checks, Check{Name: CheckBoundedRows, Status: StatusPass, Message: message})
	report.SQL = bounded
	report.Limit = limit
	return appendNormalization(report)
}

func notEvaluated(reason string) []Check {
	return []Check{
		{Name: CheckStatementShape, Status: StatusFail, Message: reason},
		{Name: CheckStatementCount, Status: StatusFail, Message: "not evaluated"},
		{Name: CheckTableWhitelist, Status: StatusFail, Message: "not evaluated"},
		{Name: CheckColumnWhitelist, Status: StatusFail, Message: "not evaluated"},
		{Name: CheckBoundedRows, Status: StatusFail, Message: "not evaluated"},
	}
}

func checkShape(tokens []token, source Source) Check {
	toks := stripComments(tokens)
	if source == SourceLLM && len(toks) != len(tokens) {
		return Check{Name: CheckStatementShape, Status: StatusFail, Message: "comments are not allowed in generated SQL"}
	}
	var forbidden []string
	seen := map[string]bool{}
	for _, tok := range toks {
		if inSet(forbiddenKeywords, tok) && !seen[tok.upper()] {
			seen[tok.upper()] = true
			forbidden = append(forbidden, tok.upper())
		}
	}
	first := 0
	for first < len(toks) && toks[first].isSymbol("(") {
		first++
	}
	if first >= len(toks) {
		return Check{Name: CheckStatementShape, Status: StatusFail, Message: "empty statement"}
	}
	lead := toks[first]
	if !lead.is("SELECT") && !lead.is("WITH") {
		return Check{Name: CheckStatementShape, Status: StatusFail, Message: fmt.Sprintf("statement must start with SELECT or WITH, found %s", lead.upper())}
	}
	if len(forbidden) > 0 {
		return Check{Name: CheckStatementShape, Status: StatusFail, Message: "forbidden keyword(s): " + strings.Join(forbidden, ", ")}
	}
	return Check{Name: CheckStatementShape, Status: StatusPass, Message: "single read-only " + lead.upper() + " statement"}
}

// checkCount allows one trailing terminator and nothing after it. It returns
// the tokens of the statement body without the terminator.
func checkCount(tokens []token) (Check, []token) {
	for i, tok := range tokens {
		if !tok.isSymbol(";") {
			continue
		}
		for _, rest := range tokens[i+1:] {
			if !rest.isSymbol(";") {
				return Check{Name: CheckStatementCount, Status: StatusFail, Message: "multiple statements: separator followed by more input"}, tokens[:i]
			}
		}
		return Check{Name: CheckStatementCount, Status: StatusPass, Message: "one statement"}, tokens[:i]
	}
	return Check{Name: CheckStatementCount, Status: StatusPass, Message: "one statement"}, tokens
}

// render rebuilds the statement from its tokens with comments and the
// terminator removed and column rewrites applied.
func render(sql string, toks []token, rewrites map[int]string) string {
	if len(toks) == 0 {
		return ""
	}
	var b strings.Builder
	for i, tok := range toks {
		if i > 0 {
			gap := sql[toks[i-1].end:tok.start]
			if strings.TrimSpace(gap) == "" {
				b.WriteString(gap)
			} else {
				b.WriteString(" ")
			}
		}
		if replacement, ok := rewrites[i]; ok {
			b.WriteString(replacement)
			continue
		}
		b.WriteString(tok.text)
	}
	return b.String()
}
