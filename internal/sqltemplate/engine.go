package sqltemplate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/duckqa/duckqa/internal/schema"
)

var (
	ErrUnknownIntent = errors.New("no template for intent")
	ErrMissingParam  = errors.New("missing template parameter")
)

var (
	refPattern         = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?:\.([A-Za-z_][A-Za-z0-9_]*))?\}`)
	placeholderPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
	limitPattern       = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\s*$`)
)

// Rendered is a statement ready for validation and execution. SQL carries
// positional ? placeholders bound by Args in order.
type Rendered struct {
	Intent      string
	SQL         string
	Args        []any
	Tables      []string
	Limit       int
	MaxLimit    int
	ScanColumn  string
	TotalColumn string
}

type compiled struct {
	Template
	sql    string
	params []string
	tables []string
	limit  int
}

// Engine renders intent templates. It is immutable after construction.
type Engine struct {
	templates map[string]compiled
	order     []string
}

// New compiles the built-in templates against registry.
func New(registry *schema.Registry) (*Engine, error) {
	return NewWithTemplates(registry, defaultTemplates())
}

// NewWithTemplates compiles templates, resolving every {Table.column} token
// through registry. An unknown table or column is a construction error.
func NewWithTemplates(registry *schema.Registry, templates []Template) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("schema registry is required")
	}
	e := &Engine{templates: map[string]compiled{}}
	for _, tmpl := range templates {
		if _, exists := e.templates[tmpl.Intent]; exists {
			return nil, fmt.Errorf("duplicate template for intent %q", tmpl.Intent)
		}
		c, err := compile(registry, tmpl)
		if err != nil {
			return nil, fmt.Errorf("compile template %s: %w", tmpl.Intent, err)
		}
		e.templates[tmpl.Intent] = c
		e.order = append(e.order, tmpl.Intent)
	}
	return e, nil
}

func compile(registry *schema.Registry, tmpl Template) (compiled, error) {
	if tmpl.MaxLimit <= 0 {
		return compiled{}, errors.New("max limit must be positive")
	}
	if tmpl.DefaultLimit <= 0 || tmpl.DefaultLimit > tmpl.MaxLimit {
		return compiled{}, fmt.Errorf("default limit %d must be within 1..%d", tmpl.DefaultLimit, tmpl.MaxLimit)
	}

	var resolveErr error
	seenTables := map[string]bool{}
	var tables []string
	sql := refPattern.ReplaceAllStringFunc(tmpl.Text, func(token string) string {
		groups := refPattern.FindStringSubmatch(token)
		table, ok := registry.Table(groups[1])
		if !ok {
			resolveErr = errors.Join(resolveErr, fmt.Errorf("unknown table %s", groups[1]))
			return token
		}
		if groups[2] == "" {
			if !seenTables[table.Name] {
				seenTables[table.Name] = true
				tables = append(tables, table.Name)
			}
			return table.Name
		}
		ref, err := registry.Ref(table.Name + "." + groups[2])
		if err != nil {
			resolveErr = errors.Join(resolveErr, err)
			return token
		}
		return ref.String()
	})
	if resolveErr != nil {
		return compiled{}, resolveErr
	}
	if len(tables) == 0 {
		return compiled{}, errors.New("template references no table")
	}

	var params []string
	sql = replacePlaceholders(sql, func(name string) string {
		params = append(params, name)
		return "?"
	})

	c := compiled{Template: tmpl, sql: strings.TrimSpace(sql), params: params, tables: tables}
	if m := limitPattern.FindStringSubmatch(c.sql); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return compiled{}, fmt.Errorf("invalid LIMIT %s", m[1])
		}
		c.limit = n
	}
	return c, nil
}

// replacePlaceholders swaps :name tokens, leaving :: casts untouched.
func replacePlaceholders(sql string, fn func(name string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(sql, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && sql[start-1] == ':' {
			continue
		}
		b.WriteString(sql[last:start])
		b.WriteString(fn(sql[loc[2]:loc[3]]))
		last = end
	}
	b.WriteString(sql[last:])
	return b.String()
}

func (e *Engine) Intents() []string {
	return append([]string(nil), e.order...)
}

func (e *Engine) Template(intentName string) (Template, bool) {
	c, ok := e.templates[intentName]
	return c.Template, ok
}

// Render binds params into the intent's template. Values are never spliced
// into the SQL text; a LIMIT is appended unless the template carries one,
// and is capped at the template maximum.
func (e *Engine) Render(intentName string, params map[string]any) (Rendered, error) {
	c, ok := e.templates[intentName]
	if !ok {
		return Rendered{}, fmt.Errorf("%w %q", ErrUnknownIntent, intentName)
	}
	args := make([]any, 0, len(c.params))
	for _, name := range c.params {
		value, ok := params[name]
		if !ok {
			return Rendered{}, fmt.Errorf("%w %q for %s", ErrMissingParam, name, intentName)
		}
		bound, err := bindValue(value)
		if err != nil {
			return Rendered{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		args = append(args, bound)
	}

	limit := c.DefaultLimit
	if c.limit > 0 {
		limit = c.limit
	}
	if c.LimitParam != "" {
		if raw, ok := params[c.LimitParam]; ok {
			n, err := intValue(raw)
			if err != nil {
				return Rendered{}, fmt.Errorf("parameter %q: %w", c.LimitParam, err)
			}
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > c.MaxLimit {
		limit = c.MaxLimit
	}

	sql := c.sql
	if c.limit > 0 {
		sql = limitPattern.ReplaceAllString(sql, "LIMIT "+strconv.Itoa(limit))
	} else {
		sql += "\nLIMIT " + strconv.Itoa(limit)
	}

	return Rendered{
		Intent:      intentName,
		SQL:         sql,
		Args:        args,
		Tables:      append([]string(nil), c.tables...),
		Limit:       limit,
		MaxLimit:    c.MaxLimit,
		ScanColumn:  c.ScanColumn,
		TotalColumn: c.TotalColumn,
	}, nil
}

// bindValue converts parameter values to driver arguments. Dates bind as
// ISO strings so that templates cast them explicitly.
func bindValue(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64, float64, string, bool:
		return v, nil
	case time.Time:
		return v.Format(time.DateOnly), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

func intValue(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}
