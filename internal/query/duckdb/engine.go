package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/query"
)

// TableFiles maps a canonical table name to the parquet files that back it.
type TableFiles map[string][]string

// Engine runs statements against an in-memory DuckDB whose tables are views
// over the local parquet cache. Every Execute takes its own connection so a
// slow statement never blocks another request.
type Engine struct {
	db *sql.DB

	mu     sync.RWMutex
	tables TableFiles
}

// Open starts an in-memory DuckDB. maxConns bounds concurrent executions.
func Open(maxConns int) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	return NewEngine(db), nil
}

// NewEngine wraps an existing handle.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db, tables: TableFiles{}}
}

func (e *Engine) DB() *sql.DB {
	return e.db
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// LoadViews points one view per table at its parquet files. Executions wait
// while views are swapped.
func (e *Engine) LoadViews(ctx context.Context, files TableFiles) error {
	if len(files) == 0 {
		return fmt.Errorf("no table files to load")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		paths := files[name]
		if len(paths) == 0 {
			return fmt.Errorf("table %q has no files", name)
		}
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quoteStringArray(paths))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", name, err)
		}
	}

	loaded := make(TableFiles, len(files))
	for name, paths := range files {
		loaded[name] = append([]string(nil), paths...)
	}
	e.tables = loaded
	return nil
}

// RestrictFileAccess limits file reads to the given directories and turns
// off every other kind of external access. DuckDB does not allow turning it
// back on for the life of the database.
func (e *Engine) RestrictFileAccess(ctx context.Context, dirs ...string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("at least one allowed directory is required")
	}
	allowed := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve allowed directory %q: %w", dir, err)
		}
		allowed = append(allowed, strings.TrimSuffix(abs, string(filepath.Separator))+string(filepath.Separator))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.ExecContext(ctx, "SET allowed_directories = "+quoteStringArray(allowed)); err != nil {
		return fmt.Errorf("set allowed directories: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, "SET enable_external_access = false"); err != nil {
		return fmt.Errorf("disable external access: %w", err)
	}
	return nil
}

func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.tables))
	for name := range e.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{Op: "execute query", Err: fmt.Errorf("sql is required")}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	result, err := e.execute(ctx, sqlText, request.Args)
	elapsed := time.Since(start)
	if err != nil {
		classified := query.Classify(ctx, "execute query", err)
		observability.ObserveQueryExecution(elapsed, isTimeout(classified))
		return query.Result{}, classified
	}
	observability.ObserveQueryExecution(elapsed, false)
	result.Duration = elapsed
	return result, nil
}

func (e *Engine) execute(ctx context.Context, sqlText string, args []any) (query.Result, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	// A deadline that fires mid-iteration can surface as a short result.
	if err := ctx.Err(); err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

func isTimeout(err error) bool {
	var execErr *query.ExecutionError
	return errors.As(err, &execErr) && execErr.Timeout()
}

// normalizeValues maps driver types onto JSON-friendly values.
func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
				normalized[i] = typed.Format(time.DateOnly)
			} else {
				normalized[i] = typed.UTC().Format(time.RFC3339)
			}
		case *big.Int:
			if typed == nil {
				normalized[i] = nil
			} else if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		case goduckdb.Decimal:
			normalized[i] = decimalToFloat(typed)
		case int32:
			normalized[i] = int64(typed)
		case float32:
			normalized[i] = float64(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func decimalToFloat(d goduckdb.Decimal) float64 {
	if d.Value == nil {
		return 0
	}
	f := new(big.Float).SetInt(d.Value)
	if d.Scale > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil))
		f.Quo(f, scale)
	}
	out, _ := f.Float64()
	return out
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
