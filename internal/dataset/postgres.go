package dataset

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/duckqa/duckqa/internal/schema"
)

type PostgresConfig struct {
	DSN             string
	Schema          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// OpenPostgres opens a pooled pgx handle and pings it.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// PostgresSource exports each table to CSV. Tables are looked up by their
// lower-cased name, the form unquoted identifiers take in Postgres.
type PostgresSource struct {
	db     *sql.DB
	schema string
}

func NewPostgresSource(db *sql.DB, schemaName string) *PostgresSource {
	if strings.TrimSpace(schemaName) == "" {
		schemaName = "public"
	}
	return &PostgresSource{db: db, schema: schemaName}
}

func (s *PostgresSource) Name() string {
	return "postgres"
}

func (s *PostgresSource) Stage(ctx context.Context, tables []*schema.Table, dir string) ([]RawFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	files := make([]RawFile, 0, len(tables))
	for _, table := range tables {
		path := filepath.Join(dir, table.Name+".csv")
		if err := s.export(ctx, table.Name, path); err != nil {
			return nil, err
		}
		files = append(files, RawFile{Table: table.Name, Path: path, Format: FormatCSV})
	}
	return files, nil
}

func (s *PostgresSource) export(ctx context.Context, table, path string) error {
	stmt := fmt.Sprintf("SELECT * FROM %s.%s", quoteIdent(s.schema), quoteIdent(strings.ToLower(table)))
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("export %s columns: %w", table, err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = out.Close() }()

	writer := csv.NewWriter(out)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write %s header: %w", table, err)
	}
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}
	record := make([]string, len(columns))
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return fmt.Errorf("export %s scan: %w", table, err)
		}
		for i, value := range values {
			record[i] = csvValue(value)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write %s row: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export %s rows: %w", table, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", table, err)
	}
	return out.Close()
}

func csvValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly)
		}
		return v.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
