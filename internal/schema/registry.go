package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistryYAML []byte

type Role string

const (
	RoleKey     Role = "key"
	RoleFK      Role = "fk"
	RoleMeasure Role = "measure"
	RoleDim     Role = "dim"
)

type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
	Role Role   `yaml:"role" json:"role"`
}

type Table struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Columns     []Column          `yaml:"columns" json:"columns"`
	Aliases     map[string]string `yaml:"aliases" json:"aliases,omitempty"`

	columnIndex map[string]int
	aliasIndex  map[string]string
}

type ColumnRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (r ColumnRef) String() string {
	return r.Table + "." + r.Column
}

type Join struct {
	From ColumnRef `json:"from"`
	To   ColumnRef `json:"to"`
}

// Registry is the static description of the queryable tables. It is built
// once and never mutated, so it is safe to share across goroutines.
type Registry struct {
	tables     []*Table
	tableIndex map[string]*Table
	joins      []Join
}

type document struct {
	Tables []*Table `yaml:"tables"`
	Joins  []struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"joins"`
}

func Default() *Registry {
	registry, err := Load(defaultRegistryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded schema registry is invalid: %v", err))
	}
	return registry
}

func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema registry %s: %w", path, err)
	}
	return Load(data)
}

func Load(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schema registry: %w", err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("schema registry declares no tables")
	}

	registry := &Registry{tableIndex: make(map[string]*Table, len(doc.Tables))}
	for _, table := range doc.Tables {
		if table == nil || strings.TrimSpace(table.Name) == "" {
			return nil, fmt.Errorf("schema registry table without name")
		}
		key := strings.ToLower(table.Name)
		if _, exists := registry.tableIndex[key]; exists {
			return nil, fmt.Errorf("duplicate table %q", table.Name)
		}
		if err := table.index(); err != nil {
			return nil, err
		}
		registry.tables = append(registry.tables, table)
		registry.tableIndex[key] = table
	}

	for _, raw := range doc.Joins {
		from, err := registry.parseRef(raw.From)
		if err != nil {
			return nil, fmt.Errorf("join from: %w", err)
		}
		to, err := registry.parseRef(raw.To)
		if err != nil {
			return nil, fmt.Errorf("join to: %w", err)
		}
		registry.joins = append(registry.joins, Join{From: from, To: to})
	}
	return registry, nil
}

func (t *Table) index() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q declares no columns", t.Name)
	}
	t.columnIndex = make(map[string]int, len(t.Columns))
	for i, column := range t.Columns {
		name := strings.TrimSpace(column.Name)
		if name == "" {
			return fmt.Errorf("table %q has a column without name", t.Name)
		}
		switch column.Role {
		case RoleKey, RoleFK, RoleMeasure, RoleDim:
		default:
			return fmt.Errorf("column %s.%s has invalid role %q", t.Name, name, column.Role)
		}
		key := strings.ToLower(name)
		if _, exists := t.columnIndex[key]; exists {
			return fmt.Errorf("duplicate column %s.%s", t.Name, name)
		}
		t.columnIndex[key] = i
	}

	t.aliasIndex = make(map[string]string, len(t.Aliases))
	for raw, canonical := range t.Aliases {
		idx, ok := t.columnIndex[strings.ToLower(canonical)]
		if !ok {
			return fmt.Errorf("alias %s.%s targets unknown column %q", t.Name, raw, canonical)
		}
		rawKey := strings.ToLower(strings.TrimSpace(raw))
		if _, clash := t.columnIndex[rawKey]; clash {
			return fmt.Errorf("alias %s.%s shadows a canonical column", t.Name, raw)
		}
		t.aliasIndex[rawKey] = t.Columns[idx].Name
	}
	return nil
}

func (r *Registry) parseRef(raw string) (ColumnRef, error) {
	tableName, columnName, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return ColumnRef{}, fmt.Errorf("column reference %q must be table.column", raw)
	}
	table, ok := r.Table(tableName)
	if !ok {
		return ColumnRef{}, fmt.Errorf("unknown table %q", tableName)
	}
	column, ok := table.Column(columnName)
	if !ok {
		return ColumnRef{}, fmt.Errorf("unknown column %s.%s", tableName, columnName)
	}
	return ColumnRef{Table: table.Name, Column: column.Name}, nil
}

// Table looks a table up case-insensitively.
func (r *Registry) Table(name string) (*Table, bool) {
	table, ok := r.tableIndex[strings.ToLower(strings.Trim(name, "\"` "))]
	return table, ok
}

func (r *Registry) Tables() []*Table {
	out := make([]*Table, len(r.tables))
	copy(out, r.tables)
	return out
}

func (r *Registry) TableNames() []string {
	out := make([]string, 0, len(r.tables))
	for _, table := range r.tables {
		out = append(out, table.Name)
	}
	return out
}

func (r *Registry) Joins() []Join {
	out := make([]Join, len(r.joins))
	copy(out, r.joins)
	return out
}

// Ref resolves "Table.column" (canonical name or alias) to its canonical form.
func (r *Registry) Ref(raw string) (ColumnRef, error) {
	tableName, ident, ok := strings.Cut(raw, ".")
	if !ok {
		return ColumnRef{}, fmt.Errorf("column reference %q must be table.column", raw)
	}
	canonical, ok := r.ResolveColumn(tableName, ident)
	if !ok {
		return ColumnRef{}, fmt.Errorf("unknown column %s", raw)
	}
	table, _ := r.Table(tableName)
	return ColumnRef{Table: table.Name, Column: canonical}, nil
}

// ResolveColumn maps a canonical column name or a raw header alias to the
// canonical column name of the given table.
func (r *Registry) ResolveColumn(tableName, ident string) (string, bool) {
	table, ok := r.Table(tableName)
	if !ok {
		return "", false
	}
	return table.Resolve(ident)
}

func (t *Table) Column(name string) (Column, bool) {
	idx, ok := t.columnIndex[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Column{}, false
	}
	return t.Columns[idx], true
}

func (t *Table) Resolve(ident string) (string, bool) {
	key := strings.ToLower(strings.Trim(ident, "\"` "))
	if idx, ok := t.columnIndex[key]; ok {
		return t.Columns[idx].Name, true
	}
	if canonical, ok := t.aliasIndex[key]; ok {
		return canonical, true
	}
	return "", false
}

// IsAlias reports whether ident is a raw header alias rather than a canonical name.
func (t *Table) IsAlias(ident string) bool {
	key := strings.ToLower(strings.Trim(ident, "\"` "))
	_, ok := t.aliasIndex[key]
	return ok
}

func (t *Table) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		out = append(out, column.Name)
	}
	return out
}

func (t *Table) KeyColumns() []string {
	var out []string
	for _, column := range t.Columns {
		if column.Role == RoleKey {
			out = append(out, column.Name)
		}
	}
	return out
}
