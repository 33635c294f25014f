package sqltemplate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := New(schema.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return engine
}

func TestRenderCustomerIDRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	rendered, err := engine.Render(intent.OrdersByCustomer, map[string]any{intent.ParamCID: int64(1001)})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(rendered.SQL, "1001") {
		t.Fatalf("value spliced into SQL text: %s", rendered.SQL)
	}
	if len(rendered.Args) != 1 || rendered.Args[0] != int64(1001) {
		t.Fatalf("args = %#v", rendered.Args)
	}

	display, err := sqlguard.Interpolate(rendered.SQL, rendered.Args)
	if err != nil {
		t.Fatalf("Interpolate() error = %v", err)
	}
	m := regexp.MustCompile(`WHERE Inventory\.CID = (\S+)\n`).FindStringSubmatch(display)
	if m == nil {
		t.Fatalf("literal not found in %s", display)
	}
	got, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || got != 1001 {
		t.Fatalf("round-trip literal = %q", m[1])
	}
	if strings.Count(display, "WHERE") != 1 || !strings.HasSuffix(display, "LIMIT 50") {
		t.Fatalf("unexpected clauses in %s", display)
	}
}

func TestRenderCustomerNameBindsPatternTwice(t *testing.T) {
	engine := newTestEngine(t)
	rendered, err := engine.Render(intent.OrdersByCustomerName, map[string]any{
		intent.ParamCustomerName: "ada",
		intent.ParamNamePattern:  "%ada%",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(rendered.SQL, "ada") {
		t.Fatalf("value spliced into SQL text: %s", rendered.SQL)
	}
	if len(rendered.Args) != 2 || rendered.Args[0] != "%ada%" || rendered.Args[1] != "%ada%" {
		t.Fatalf("args = %#v", rendered.Args)
	}
	if strings.Join(rendered.Tables, ",") != "Inventory,Customer" {
		t.Fatalf("tables = %v", rendered.Tables)
	}
}

func TestRenderTopProducts(t *testing.T) {
	engine := newTestEngine(t)
	rendered, err := engine.Render(intent.TopProducts, map[string]any{intent.ParamK: 5})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{
		"GROUP BY Detail.product_id",
		"SUM(Detail.qty * Detail.unit_price) AS revenue",
		"ORDER BY revenue DESC",
	} {
		if !strings.Contains(rendered.SQL, want) {
			t.Fatalf("SQL missing %q:\n%s", want, rendered.SQL)
		}
	}
	if !strings.HasSuffix(rendered.SQL, "LIMIT 5") || rendered.Limit != 5 {
		t.Fatalf("limit = %d, SQL = %s", rendered.Limit, rendered.SQL)
	}
	if len(rendered.Args) != 0 {
		t.Fatalf("args = %#v", rendered.Args)
	}
}

func TestRenderLimitDefaultsAndCaps(t *testing.T) {
	engine := newTestEngine(t)
	tests := []struct {
		name   string
		intent string
		params map[string]any
		limit  int
	}{
		{"default k", intent.TopCustomers, map[string]any{}, 5},
		{"k above max", intent.TopCustomers, map[string]any{intent.ParamK: 5000}, 1000},
		{"k below one", intent.TopProducts, map[string]any{intent.ParamK: 0}, 1},
		{"template default", intent.OrderDetails, map[string]any{intent.ParamIID: int64(7)}, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rendered, err := engine.Render(tc.intent, tc.params)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if rendered.Limit != tc.limit || !strings.HasSuffix(rendered.SQL, "LIMIT "+strconv.Itoa(tc.limit)) {
				t.Fatalf("limit = %d, SQL = %s", rendered.Limit, rendered.SQL)
			}
		})
	}
}

func TestRenderRevenueBindsDates(t *testing.T) {
	engine := newTestEngine(t)
	rendered, err := engine.Render(intent.RevenueByPeriod, map[string]any{
		intent.ParamFrom:   time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC),
		intent.ParamTo:     time.Date(2024, time.November, 30, 0, 0, 0, 0, time.UTC),
		intent.ParamPeriod: "last 30 days",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(rendered.Args) != 2 || rendered.Args[0] != "2024-11-01" || rendered.Args[1] != "2024-11-30" {
		t.Fatalf("args = %#v", rendered.Args)
	}
	if rendered.TotalColumn != "period_revenue" || rendered.ScanColumn != "rows_scanned" {
		t.Fatalf("columns = %q/%q", rendered.TotalColumn, rendered.ScanColumn)
	}
	if !strings.Contains(rendered.SQL, "BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)") {
		t.Fatalf("SQL = %s", rendered.SQL)
	}
}

func TestRenderErrors(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.Render("weather", nil); !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("Render(unknown) error = %v", err)
	}
	if _, err := engine.Render(intent.OrdersByCustomer, map[string]any{}); !errors.Is(err, ErrMissingParam) {
		t.Fatalf("Render(missing) error = %v", err)
	}
	if _, err := engine.Render(intent.OrdersByCustomer, map[string]any{intent.ParamCID: []int{1}}); err == nil {
		t.Fatal("Render(bad type) expected error")
	}
}

func TestEveryTemplatePassesTheGuard(t *testing.T) {
	registry := schema.Default()
	engine := newTestEngine(t)
	guard := sqlguard.New(registry, sqlguard.Config{DefaultLimit: 100, MaxLimit: 1000})
	params := map[string]any{
		intent.ParamCID:         int64(1001),
		intent.ParamIID:         int64(2001),
		intent.ParamK:           3,
		intent.ParamNamePattern: "%ada%",
		intent.ParamFrom:        time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC),
		intent.ParamTo:          time.Date(2024, time.August, 31, 0, 0, 0, 0, time.UTC),
	}
	for _, name := range engine.Intents() {
		t.Run(name, func(t *testing.T) {
			rendered, err := engine.Render(name, params)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			report := guard.Validate(rendered.SQL, sqlguard.Options{
				Source:       sqlguard.SourceTemplate,
				DefaultLimit: rendered.Limit,
				MaxLimit:     rendered.MaxLimit,
			})
			if !report.Valid() {
				t.Fatalf("template rejected: %#v", report.Checks)
			}
			if report.SQL != rendered.SQL {
				t.Fatalf("guard rewrote template SQL:\n%s\nwant:\n%s", report.SQL, rendered.SQL)
			}
		})
	}
}

func TestCompileRejectsUnknownColumns(t *testing.T) {
	_, err := NewWithTemplates(schema.Default(), []Template{{
		Intent:       "broken",
		Text:         "SELECT {Customer.loyalty_tier} FROM {Customer}",
		DefaultLimit: 1,
		MaxLimit:     1,
	}})
	if err == nil {
		t.Fatal("NewWithTemplates() expected error for unknown column")
	}
}

func TestCompileResolvesAliases(t *testing.T) {
	engine, err := NewWithTemplates(schema.Default(), []Template{{
		Intent:       "aliased",
		Text:         "SELECT {Inventory.total} FROM {Inventory} WHERE {Inventory.customer_id} = :cid LIMIT 20",
		DefaultLimit: 10,
		MaxLimit:     15,
	}})
	if err != nil {
		t.Fatalf("NewWithTemplates() error = %v", err)
	}
	rendered, err := engine.Render("aliased", map[string]any{"cid": 1})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "SELECT Inventory.order_total FROM Inventory WHERE Inventory.CID = ? LIMIT 15"
	if rendered.SQL != want {
		t.Fatalf("SQL = %q, want %q", rendered.SQL, want)
	}
}
