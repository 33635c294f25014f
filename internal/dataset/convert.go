package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckqa/duckqa/internal/schema"
)

var castTypes = map[string]bool{
	"BIGINT":    true,
	"INTEGER":   true,
	"DOUBLE":    true,
	"VARCHAR":   true,
	"DATE":      true,
	"TIMESTAMP": true,
	"BOOLEAN":   true,
}

// Conversion describes one canonical parquet file.
type Conversion struct {
	Table string
	Path  string
	Rows  int64
	// Missing lists canonical columns absent from the raw file. They are
	// written as typed NULL columns.
	Missing []string
	// Ignored lists raw headers that map to no canonical column.
	Ignored []string
}

// Converter rewrites raw files into parquet with canonical column names and
// registry types. It owns a private in-memory DuckDB.
type Converter struct {
	db *sql.DB
}

func OpenConverter() (*Converter, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Converter{db: db}, nil
}

func (c *Converter) Close() error {
	return c.db.Close()
}

// Convert writes <outDir>/<Table>.parquet. Values that do not cast to the
// registry type become NULL. A missing key column fails the conversion.
func (c *Converter) Convert(ctx context.Context, table *schema.Table, raw RawFile, outDir string) (Conversion, error) {
	reader, err := readerExpr(raw)
	if err != nil {
		return Conversion{}, err
	}
	headers, err := c.headers(ctx, reader)
	if err != nil {
		return Conversion{}, fmt.Errorf("read %s headers: %w", table.Name, err)
	}

	projection, conversion, err := project(table, headers)
	if err != nil {
		return Conversion{}, err
	}
	conversion.Path = filepath.Join(outDir, table.Name+".parquet")

	copySQL := fmt.Sprintf(
		"COPY (SELECT %s FROM %s) TO %s (FORMAT PARQUET, COMPRESSION ZSTD)",
		strings.Join(projection, ", "), reader, quoteString(conversion.Path),
	)
	if _, err := c.db.ExecContext(ctx, copySQL); err != nil {
		return Conversion{}, fmt.Errorf("convert %s: %w", table.Name, err)
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM read_parquet(%s)", quoteString(conversion.Path))
	if err := c.db.QueryRowContext(ctx, countSQL).Scan(&conversion.Rows); err != nil {
		return Conversion{}, fmt.Errorf("count %s rows: %w", table.Name, err)
	}
	return conversion, nil
}

func (c *Converter) headers(ctx context.Context, reader string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT * FROM "+reader+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return rows.Columns()
}

// project maps raw headers onto the canonical columns in registry order. An
// exact canonical header wins over an alias for the same column.
func project(table *schema.Table, headers []string) ([]string, Conversion, error) {
	conversion := Conversion{Table: table.Name}
	source := make(map[string]string, len(table.Columns))
	for _, header := range headers {
		canonical, ok := table.Resolve(header)
		if !ok {
			conversion.Ignored = append(conversion.Ignored, header)
			continue
		}
		existing, taken := source[canonical]
		switch {
		case !taken:
			source[canonical] = header
		case table.IsAlias(existing) && !table.IsAlias(header):
			conversion.Ignored = append(conversion.Ignored, existing)
			source[canonical] = header
		default:
			conversion.Ignored = append(conversion.Ignored, header)
		}
	}

	projection := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		castType := strings.ToUpper(strings.TrimSpace(column.Type))
		if !castTypes[castType] {
			return nil, Conversion{}, fmt.Errorf("column %s.%s has unsupported type %q", table.Name, column.Name, column.Type)
		}
		header, ok := source[column.Name]
		if !ok {
			if column.Role == schema.RoleKey {
				return nil, Conversion{}, fmt.Errorf("table %s is missing key column %s", table.Name, column.Name)
			}
			conversion.Missing = append(conversion.Missing, column.Name)
			projection = append(projection, fmt.Sprintf("CAST(NULL AS %s) AS %s", castType, quoteIdent(column.Name)))
			continue
		}
		projection = append(projection, fmt.Sprintf("TRY_CAST(%s AS %s) AS %s", quoteIdent(header), castType, quoteIdent(column.Name)))
	}
	return projection, conversion, nil
}

func readerExpr(raw RawFile) (string, error) {
	switch raw.Format {
	case FormatCSV:
		return fmt.Sprintf("read_csv(%s, header = true, all_varchar = true)", quoteString(raw.Path)), nil
	case FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", quoteString(raw.Path)), nil
	default:
		return "", fmt.Errorf("unsupported format %q for %s", raw.Format, raw.Table)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
