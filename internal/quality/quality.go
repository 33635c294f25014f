// Package quality computes dataset health signals that feed answer
// confidence: referential orphan rates, null and negative value counts, and
// the latest order date used to ground relative date phrases.
package quality

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/schema"
)

type OrphanRate struct {
	Join    string  `json:"join"`
	Total   int64   `json:"total"`
	Orphans int64   `json:"orphans"`
	Rate    float64 `json:"rate"`
}

type Report struct {
	RowCounts         map[string]int64 `json:"row_counts"`
	Orphans           []OrphanRate     `json:"orphans"`
	NullOrderDateRate float64          `json:"null_order_date_rate"`
	NegativeTotals    int64            `json:"negative_totals"`
	NegativePrices    int64            `json:"negative_prices"`
	MaxOrderDate      time.Time        `json:"max_order_date"`
	ComputedAt        time.Time        `json:"computed_at"`
}

// DataAge is how far the newest order lies behind now. Zero when the
// dataset has no dated orders.
func (r Report) DataAge(now time.Time) time.Duration {
	if r.MaxOrderDate.IsZero() {
		return 0
	}
	return now.Sub(r.MaxOrderDate)
}

type Checker struct {
	engine   query.Engine
	registry *schema.Registry
	now      func() time.Time
}

func NewChecker(engine query.Engine, registry *schema.Registry) *Checker {
	return &Checker{engine: engine, registry: registry, now: time.Now}
}

// Compute runs every metric query concurrently and fails if any fails.
func (c *Checker) Compute(ctx context.Context) (Report, error) {
	tables := c.registry.TableNames()
	joins := c.registry.Joins()

	counts := make([]int64, len(tables))
	orphans := make([]OrphanRate, len(joins))
	var nullRate float64
	var negativeTotals, negativePrices int64
	var maxDate time.Time

	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		g.Go(func() error {
			row, err := c.scalarRow(gctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
			if err != nil {
				return fmt.Errorf("count %s: %w", table, err)
			}
			counts[i] = asInt64(row[0])
			return nil
		})
	}
	for i, join := range joins {
		g.Go(func() error {
			sql := fmt.Sprintf(
				"SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)) FROM %s c WHERE c.%s IS NOT NULL",
				join.To.Table, join.To.Column, join.From.Column, join.From.Table, join.From.Column,
			)
			row, err := c.scalarRow(gctx, sql)
			if err != nil {
				return fmt.Errorf("orphans %s: %w", joinLabel(join), err)
			}
			orphans[i] = OrphanRate{Join: joinLabel(join), Total: asInt64(row[0]), Orphans: asInt64(row[1])}
			orphans[i].Rate = ratio(orphans[i].Orphans, orphans[i].Total)
			return nil
		})
	}
	g.Go(func() error {
		row, err := c.scalarRow(gctx, "SELECT COUNT(*), COUNT(*) FILTER (WHERE order_date IS NULL), COUNT(*) FILTER (WHERE order_total < 0) FROM Inventory")
		if err != nil {
			return fmt.Errorf("inventory checks: %w", err)
		}
		nullRate = ratio(asInt64(row[1]), asInt64(row[0]))
		negativeTotals = asInt64(row[2])
		return nil
	})
	g.Go(func() error {
		row, err := c.scalarRow(gctx, "SELECT COUNT(*) FILTER (WHERE unit_price < 0) FROM Detail")
		if err != nil {
			return fmt.Errorf("detail checks: %w", err)
		}
		negativePrices = asInt64(row[0])
		return nil
	})
	g.Go(func() error {
		row, err := c.scalarRow(gctx, "SELECT CAST(MAX(TRY_CAST(order_date AS DATE)) AS VARCHAR) FROM Inventory")
		if err != nil {
			return fmt.Errorf("max order date: %w", err)
		}
		if raw, ok := row[0].(string); ok && raw != "" {
			parsed, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return fmt.Errorf("parse max order date %q: %w", raw, err)
			}
			maxDate = parsed
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		RowCounts:         make(map[string]int64, len(tables)),
		Orphans:           orphans,
		NullOrderDateRate: nullRate,
		NegativeTotals:    negativeTotals,
		NegativePrices:    negativePrices,
		MaxOrderDate:      maxDate,
		ComputedAt:        c.now().UTC(),
	}
	for i, table := range tables {
		report.RowCounts[table] = counts[i]
	}
	return report, nil
}

func (c *Checker) scalarRow(ctx context.Context, sql string) ([]any, error) {
	result, err := c.engine.Execute(ctx, query.Request{SQL: sql})
	if err != nil {
		return nil, err
	}
	if len(result.Rows) != 1 {
		return nil, fmt.Errorf("expected one row, got %d", len(result.Rows))
	}
	return result.Rows[0], nil
}

// Monitor caches the latest report until Invalidate is called. Concurrent
// callers share one computation.
type Monitor struct {
	checker *Checker

	mu     sync.RWMutex
	report *Report
	epoch  uint64
	group  singleflight.Group
}

func NewMonitor(checker *Checker) *Monitor {
	return &Monitor{checker: checker}
}

func (m *Monitor) Report(ctx context.Context) (Report, error) {
	m.mu.RLock()
	if m.report != nil {
		report := *m.report
		m.mu.RUnlock()
		return report, nil
	}
	epoch := m.epoch
	m.mu.RUnlock()

	value, err, _ := m.group.Do(strconv.FormatUint(epoch, 10), func() (any, error) {
		report, err := m.checker.Compute(ctx)
		if err != nil {
			return Report{}, err
		}
		m.mu.Lock()
		if m.epoch == epoch {
			m.report = &report
		}
		m.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return Report{}, err
	}
	return value.(Report), nil
}

// MaxOrderDate returns the grounding anchor for relative date phrases.
func (m *Monitor) MaxOrderDate(ctx context.Context) (time.Time, error) {
	report, err := m.Report(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return report.MaxOrderDate, nil
}

// Invalidate drops the cached report. Computations already in flight for
// the previous dataset are not stored.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.report = nil
	m.epoch++
	m.mu.Unlock()
}

func joinLabel(join schema.Join) string {
	return join.From.String() + "->" + join.To.String()
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
