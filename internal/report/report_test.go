package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/duckqa/duckqa/internal/evidence"
	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

type fakeEngine struct {
	requests []query.Request
	result   query.Result
	err      error
}

func (e *fakeEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	e.requests = append(e.requests, request)
	return e.result, e.err
}

type fixedGrounding time.Time

func (g fixedGrounding) MaxOrderDate(context.Context) (time.Time, error) {
	return time.Time(g), nil
}

func newTestService(t *testing.T, engine *fakeEngine, latest time.Time) *Service {
	t.Helper()
	registry := schema.Default()
	service, err := NewService(Dependencies{
		Registry:  registry,
		Guard:     sqlguard.New(registry, sqlguard.Config{DefaultLimit: 200, MaxLimit: 1000}),
		Engine:    engine,
		Grounding: fixedGrounding(latest),
	}, Config{QueryTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEveryReportTemplatePassesTheGuard(t *testing.T) {
	for _, kind := range Types() {
		t.Run(kind, func(t *testing.T) {
			engine := &fakeEngine{}
			service := newTestService(t, engine, day(2024, time.November, 30))
			response, err := service.Report(context.Background(), Request{Type: kind})
			if err != nil {
				t.Fatalf("Report(%s) error = %v", kind, err)
			}
			if len(engine.requests) != 1 || !strings.Contains(engine.requests[0].SQL, "LIMIT ") {
				t.Fatalf("requests = %+v", engine.requests)
			}
			if len(response.SQL) != 1 || response.SQL[0] != engine.requests[0].SQL {
				t.Fatalf("SQL = %v", response.SQL)
			}
			if len(response.Charts) != 1 || response.SummaryText == "" {
				t.Fatalf("response = %+v", response)
			}
		})
	}
}

func TestRevenueByMonthDefaultsToTwelveMonths(t *testing.T) {
	engine := &fakeEngine{result: query.Result{
		Columns:  []string{"order_month", "revenue"},
		Rows:     [][]any{{"2024-10", 200.0}, {"2024-11", 1200.5}},
		RowCount: 2,
	}}
	service := newTestService(t, engine, day(2024, time.November, 30))

	response, err := service.Report(context.Background(), Request{Type: RevenueByMonth})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if got := fmt.Sprint(engine.requests[0].Args); got != "[2023-12-01 2024-11-30]" {
		t.Fatalf("Args = %s", got)
	}
	if response.From != "2023-12-01" || response.To != "2024-11-30" {
		t.Fatalf("range = %s..%s", response.From, response.To)
	}
	if response.SummaryText != "Revenue by month between 2023-12-01 and 2024-11-30: $1,400.50." {
		t.Fatalf("SummaryText = %q", response.SummaryText)
	}
	chart := response.Charts[0]
	if chart.Type != evidence.ChartBar || len(chart.Series[0].Data) != 2 || chart.Series[0].Data[1] != (evidence.Point{"2024-11", 1200.5}) {
		t.Fatalf("chart = %+v", chart)
	}
	if strings.Join(response.TablesUsed, ",") != "Inventory" {
		t.Fatalf("TablesUsed = %v", response.TablesUsed)
	}
}

func TestTopProductsCarriesRevenueAndQuantity(t *testing.T) {
	engine := &fakeEngine{result: query.Result{
		Columns:  []string{"product_id", "units", "revenue"},
		Rows:     [][]any{{"SKU-2", int64(3), 120.0}, {"SKU-1", int64(7), 80.5}},
		RowCount: 2,
	}}
	service := newTestService(t, engine, day(2024, time.November, 30))
	pinned := &intent.Period{From: day(2024, time.October, 1), To: day(2024, time.October, 31)}

	response, err := service.Report(context.Background(), Request{Type: TopProducts, DateRange: pinned, K: 3})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !strings.HasSuffix(engine.requests[0].SQL, "LIMIT 3") {
		t.Fatalf("SQL = %q", engine.requests[0].SQL)
	}
	series := response.Charts[0].Series
	if len(series) != 2 || series[0].Name != "Revenue" || series[1].Name != "Quantity" {
		t.Fatalf("series = %+v", series)
	}
	if series[0].Data[1] != (evidence.Point{"SKU-1", 80.5}) || series[1].Data[0] != (evidence.Point{"SKU-2", 3.0}) {
		t.Fatalf("series data = %+v", series)
	}
	if response.SummaryText != "Top 2 products by revenue (2024-10-01 to 2024-10-31): $200.50 total." {
		t.Fatalf("SummaryText = %q", response.SummaryText)
	}
}

func TestTopCustomersIgnoresDateRange(t *testing.T) {
	engine := &fakeEngine{}
	service := newTestService(t, engine, time.Time{})

	response, err := service.Report(context.Background(), Request{Type: TopCustomers, K: 2})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if len(engine.requests[0].Args) != 0 || response.From != "" {
		t.Fatalf("args = %v from = %q", engine.requests[0].Args, response.From)
	}
	if response.SummaryText != "Top 0 customers by revenue." {
		t.Fatalf("SummaryText = %q", response.SummaryText)
	}
}

func TestReportErrors(t *testing.T) {
	engine := &fakeEngine{}
	service := newTestService(t, engine, time.Time{})
	ctx := context.Background()

	if _, err := service.Report(ctx, Request{Type: "churn"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("unknown type error = %v", err)
	}
	if _, err := service.Report(ctx, Request{Type: RevenueTrend}); !errors.Is(err, ErrNoGroundingDate) {
		t.Fatalf("empty dataset error = %v", err)
	}
	backwards := &intent.Period{From: day(2024, time.May, 2), To: day(2024, time.May, 1)}
	if _, err := service.Report(ctx, Request{Type: RevenueTrend, DateRange: backwards}); !errors.Is(err, ErrDateRange) {
		t.Fatalf("backwards range error = %v", err)
	}
	if len(engine.requests) != 0 {
		t.Fatalf("requests = %d, want none", len(engine.requests))
	}

	engine.err = query.ErrTimeout
	pinned := &intent.Period{From: day(2024, time.May, 1), To: day(2024, time.May, 2)}
	if _, err := service.Report(ctx, Request{Type: RevenueTrend, DateRange: pinned}); !errors.Is(err, query.ErrTimeout) {
		t.Fatalf("timeout error = %v", err)
	}
}

func TestTableStatsReadsOneScan(t *testing.T) {
	engine := &fakeEngine{result: query.Result{
		Columns:  []string{"row_count", "price_table_item_id_nulls", "price_table_item_id_distinct", "product_id_nulls", "product_id_distinct", "unit_price_nulls", "unit_price_distinct"},
		Rows:     [][]any{{int64(150000), int64(0), int64(150000), int64(2), int64(140000), int64(0), int64(90)}},
		RowCount: 1,
	}}
	service := newTestService(t, engine, time.Time{})

	stats, err := service.TableStats(context.Background(), "pricelist")
	if err != nil {
		t.Fatalf("TableStats() error = %v", err)
	}
	if stats.Table != "Pricelist" || stats.RowCount != 150000 || len(stats.Columns) != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	product := stats.Columns[1]
	if product.Name != "product_id" || product.Type != "VARCHAR" || product.NullCount != 2 || product.DistinctCount != 140000 {
		t.Fatalf("product_id stats = %+v", product)
	}
	if len(stats.PerformanceTips) != 2 {
		t.Fatalf("PerformanceTips = %v", stats.PerformanceTips)
	}
	if len(engine.requests) != 1 || !strings.HasSuffix(engine.requests[0].SQL, "FROM Pricelist LIMIT 1") {
		t.Fatalf("requests = %+v", engine.requests)
	}

	if _, err := service.TableStats(context.Background(), "passwords"); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("unknown table error = %v", err)
	}
	if len(engine.requests) != 1 {
		t.Fatal("unknown table reached the engine")
	}
}
