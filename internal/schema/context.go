package schema

import (
	"fmt"
	"sort"
	"strings"
)

// SampleRows holds a few example rows per table, keyed by table name.
type SampleRows map[string][]map[string]any

// Context renders the registry as the plain-text schema description handed to
// SQL generators. Sample rows are optional.
func (r *Registry) Context(samples SampleRows) string {
	var b strings.Builder
	b.WriteString("Tables (DuckDB, read-only):\n")
	for _, table := range r.tables {
		fmt.Fprintf(&b, "\n%s", table.Name)
		if table.Description != "" {
			fmt.Fprintf(&b, " -- %s", table.Description)
		}
		b.WriteString("\n")
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s %s (%s)\n", column.Name, column.Type, column.Role)
		}
		if len(table.Aliases) > 0 {
			raws := make([]string, 0, len(table.Aliases))
			for raw := range table.Aliases {
				raws = append(raws, raw)
			}
			sort.Strings(raws)
			pairs := make([]string, 0, len(raws))
			for _, raw := range raws {
				pairs = append(pairs, raw+"->"+table.aliasIndex[strings.ToLower(raw)])
			}
			fmt.Fprintf(&b, "  aliases: %s\n", strings.Join(pairs, ", "))
		}
		rows := samples[table.Name]
		if len(rows) > 0 {
			b.WriteString("  sample rows:\n")
			for _, row := range rows {
				b.WriteString("    ")
				b.WriteString(formatSampleRow(table, row))
				b.WriteString("\n")
			}
		}
	}
	if len(r.joins) > 0 {
		b.WriteString("\nJoins:\n")
		for _, join := range r.joins {
			fmt.Fprintf(&b, "  - %s = %s\n", join.From, join.To)
		}
	}
	return b.String()
}

func formatSampleRow(table *Table, row map[string]any) string {
	parts := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		value, ok := row[column.Name]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", column.Name, value))
	}
	return strings.Join(parts, ", ")
}
