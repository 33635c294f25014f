package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

const (
	largeTableRows = 100_000
	hugeTableRows  = 1_000_000
)

type ColumnStats struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Role          string `json:"role"`
	NullCount     int64  `json:"null_count"`
	DistinctCount int64  `json:"distinct_count"`
}

type TableStats struct {
	Table           string        `json:"table"`
	RowCount        int64         `json:"row_count"`
	Columns         []ColumnStats `json:"columns"`
	PerformanceTips []string      `json:"performance_tips"`
	SQL             string        `json:"sql"`
}

// TableStats counts rows, nulls and distinct values for every registered
// column of table in one scan.
func (s *Service) TableStats(ctx context.Context, table string) (TableStats, error) {
	meta, ok := s.registry.Table(table)
	if !ok {
		return TableStats{}, fmt.Errorf("%w %q", ErrUnknownTable, table)
	}

	parts := []string{"COUNT(*) AS row_count"}
	for _, column := range meta.Columns {
		ref := meta.Name + "." + column.Name
		parts = append(parts,
			fmt.Sprintf("COUNT(*) - COUNT(%s) AS %s", ref, nullAlias(column.Name)),
			fmt.Sprintf("COUNT(DISTINCT %s) AS %s", ref, distinctAlias(column.Name)),
		)
	}
	sql := "SELECT " + strings.Join(parts, ", ") + " FROM " + meta.Name

	result, executed, err := s.execute(ctx, sql, nil, sqlguard.Options{Source: sqlguard.SourceTemplate, DefaultLimit: 1, MaxLimit: 1})
	if err != nil {
		return TableStats{}, err
	}

	stats := TableStats{Table: meta.Name, SQL: executed, Columns: make([]ColumnStats, 0, len(meta.Columns)), PerformanceTips: []string{}}
	stats.RowCount = intCell(result, "row_count")
	for _, column := range meta.Columns {
		stats.Columns = append(stats.Columns, ColumnStats{
			Name:          column.Name,
			Type:          column.Type,
			Role:          string(column.Role),
			NullCount:     intCell(result, nullAlias(column.Name)),
			DistinctCount: intCell(result, distinctAlias(column.Name)),
		})
	}
	if stats.RowCount > largeTableRows {
		stats.PerformanceTips = append(stats.PerformanceTips,
			"Ask for a specific period to reduce the rows scanned.",
			"Prefer ranked or aggregated questions over full listings.")
	}
	if stats.RowCount > hugeTableRows {
		stats.PerformanceTips = append(stats.PerformanceTips,
			"Publish the table as parquet partitioned by order date.",
			"Use the revenue reports instead of row-level scans.")
	}
	return stats, nil
}

func nullAlias(column string) string     { return column + "_nulls" }
func distinctAlias(column string) string { return column + "_distinct" }

func intCell(result query.Result, column string) int64 {
	idx := result.Column(column)
	if idx < 0 || len(result.Rows) == 0 || idx >= len(result.Rows[0]) {
		return 0
	}
	switch v := result.Rows[0][idx].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
