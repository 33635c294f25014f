package evidence

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/quality"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

func newTestAssembler() *Assembler {
	assembler := NewAssembler(Config{SampleRows: 2})
	assembler.now = func() time.Time { return time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC) }
	assembler.newID = func() string { return "bundle-1" }
	return assembler
}

func validReport(t *testing.T, sql string) sqlguard.Report {
	t.Helper()
	report := sqlguard.New(schema.Default(), sqlguard.Config{DefaultLimit: 200, MaxLimit: 1000}).
		Validate(sql, sqlguard.Options{Source: sqlguard.SourceTemplate})
	if !report.Valid() {
		t.Fatalf("Validate(%q) invalid: %+v", sql, report.Checks)
	}
	return report
}

func cleanQuality() *quality.Report {
	return &quality.Report{
		Orphans:      []quality.OrphanRate{{Join: "Inventory.CID->Customer.CID", Rate: 0}},
		MaxOrderDate: time.Date(2024, time.November, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestAssembleRevenueUsesResultTotalVerbatim(t *testing.T) {
	from := time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.November, 30, 0, 0, 0, 0, time.UTC)
	plan := Plan{
		Intent:      intent.RevenueByPeriod,
		Mode:        "classic",
		Source:      sqlguard.SourceTemplate,
		Params:      intent.Params{intent.ParamFrom: from, intent.ParamTo: to, intent.ParamPeriod: "last 30 days"},
		Args:        []any{"2024-11-01", "2024-11-30"},
		ScanColumn:  "rows_scanned",
		TotalColumn: "period_revenue",
	}
	report := validReport(t, "SELECT Inventory.order_date, SUM(Inventory.order_total) AS revenue FROM Inventory WHERE Inventory.order_date BETWEEN CAST(? AS DATE) AND CAST(? AS DATE) GROUP BY Inventory.order_date")
	result := &query.Result{
		Columns: []string{"order_date", "revenue", "period_revenue", "rows_scanned"},
		Rows: [][]any{
			{"2024-11-02", 1000.5, 12345.5, int64(42)},
			{"2024-11-03", 2000.0, 12345.5, int64(42)},
			{"2024-11-04", 9345.175, 12345.5, int64(42)},
		},
		RowCount: 3,
	}

	bundle := newTestAssembler().Assemble(Input{Plan: plan, Report: report, Result: result, Quality: cleanQuality(), Timeout: 5 * time.Second})
	if bundle.Failed() {
		t.Fatalf("Assemble() error = %+v", bundle.Error)
	}
	if bundle.AnswerText != "Revenue from 2024-11-01 to 2024-11-30: $12,345.50." {
		t.Fatalf("AnswerText = %q", bundle.AnswerText)
	}
	if bundle.RowsScanned != 42 || bundle.RowCount != 3 {
		t.Fatalf("RowsScanned = %d RowCount = %d", bundle.RowsScanned, bundle.RowCount)
	}
	if len(bundle.SampleRows) != 2 {
		t.Fatalf("SampleRows = %d, want 2", len(bundle.SampleRows))
	}
	if _, ok := bundle.SampleRows[0]["rows_scanned"]; ok {
		t.Fatal("window column leaked into sample rows")
	}
	if strings.Join(bundle.Columns, ",") != "order_date,revenue" {
		t.Fatalf("Columns = %v", bundle.Columns)
	}
	if !strings.Contains(bundle.SQL, "CAST('2024-11-01' AS DATE)") {
		t.Fatalf("SQL = %q", bundle.SQL)
	}
	if bundle.Params[intent.ParamFrom] != "2024-11-01" {
		t.Fatalf("Params = %#v", bundle.Params)
	}
	if bundle.Confidence != 0.75 {
		t.Fatalf("Confidence = %v", bundle.Confidence)
	}
	last := bundle.Validations[len(bundle.Validations)-1]
	if last.Name != sqlguard.CheckExecutionTimeout || last.Status != sqlguard.StatusPass {
		t.Fatalf("last validation = %+v", last)
	}
	if len(bundle.FollowUps) < 1 || len(bundle.FollowUps) > 3 {
		t.Fatalf("FollowUps = %v", bundle.FollowUps)
	}
	if bundle.Chart == nil || bundle.Chart.Type != ChartLine || bundle.Chart.X != "order_date" || bundle.Chart.Y != "revenue" {
		t.Fatalf("Chart = %+v", bundle.Chart)
	}
	data := bundle.Chart.Series[0].Data
	if len(data) != 3 || data[0] != (Point{"2024-11-02", 1000.5}) || data[2] != (Point{"2024-11-04", 9345.175}) {
		t.Fatalf("series = %v", data)
	}
}

func TestAssembleCustomerNameLookupReadsIDFromResult(t *testing.T) {
	plan := Plan{
		Intent:     intent.OrdersByCustomerName,
		Mode:       "classic",
		Source:     sqlguard.SourceTemplate,
		Params:     intent.Params{intent.ParamCustomerName: "ada", intent.ParamNamePattern: "%ada%"},
		Args:       []any{"%ada%", "%ada%"},
		ScanColumn: "rows_scanned",
	}
	report := validReport(t, "SELECT Inventory.IID, Inventory.CID, Customer.name, Inventory.order_date, Inventory.order_total FROM Inventory JOIN Customer ON Customer.CID = Inventory.CID WHERE Inventory.CID = (SELECT MIN(Customer.CID) FROM Customer WHERE LOWER(Customer.name) LIKE ?)")
	result := &query.Result{
		Columns:  []string{"IID", "CID", "name", "order_date", "order_total", "rows_scanned"},
		Rows:     [][]any{{int64(2001), int64(1001), "Ada Lovelace", "2024-11-20", 80.0, int64(1)}},
		RowCount: 1,
	}
	bundle := newTestAssembler().Assemble(Input{Plan: plan, Report: report, Result: result, Quality: cleanQuality()})
	if bundle.AnswerText != "Found 1 order for Ada Lovelace (CID 1001)." {
		t.Fatalf("AnswerText = %q", bundle.AnswerText)
	}
	if bundle.FollowUps[0] != "Order details 2001" {
		t.Fatalf("FollowUps = %v", bundle.FollowUps)
	}
	if bundle.Chart == nil || bundle.Chart.Type != ChartBar || bundle.Chart.Series[0].Data[0] != (Point{"2024-11-20", 80.0}) {
		t.Fatalf("Chart = %+v", bundle.Chart)
	}
}

func TestChartFallsBackToTable(t *testing.T) {
	result := query.Result{Columns: []string{"DID", "qty"}, Rows: [][]any{{int64(1), int64(2)}}, RowCount: 1}
	for _, plan := range []Plan{{Intent: intent.OrderDetails}, {Source: sqlguard.SourceLLM}, {Intent: intent.TopProducts}} {
		chart := chartFor(plan, result)
		if chart.Type != ChartTable || len(chart.Series) != 0 {
			t.Fatalf("chartFor(%q) = %+v", plan.Intent, chart)
		}
	}
}

func TestAssembleOrdersByCustomer(t *testing.T) {
	plan := Plan{
		Intent:     intent.OrdersByCustomer,
		Mode:       "classic",
		Source:     sqlguard.SourceTemplate,
		Params:     intent.Params{intent.ParamCID: int64(1001)},
		Args:       []any{int64(1001)},
		ScanColumn: "rows_scanned",
	}
	report := validReport(t, "SELECT Inventory.IID, Customer.name FROM Inventory LEFT JOIN Customer ON Customer.CID = Inventory.CID WHERE Inventory.CID = ?")
	result := &query.Result{
		Columns:  []string{"IID", "name", "rows_scanned"},
		Rows:     [][]any{{int64(2001), "Ada Lovelace", int64(7)}, {int64(2002), "Ada Lovelace", int64(7)}},
		RowCount: 2,
	}
	bundle := newTestAssembler().Assemble(Input{Plan: plan, Report: report, Result: result, Quality: cleanQuality()})
	if bundle.AnswerText != "Found 7 orders for Ada Lovelace (CID 1001). Showing the first 2." {
		t.Fatalf("AnswerText = %q", bundle.AnswerText)
	}
	if bundle.FollowUps[0] != "Order details 2001" {
		t.Fatalf("FollowUps = %v", bundle.FollowUps)
	}
	if !strings.Contains(bundle.SQL, "Inventory.CID = 1001") {
		t.Fatalf("SQL = %q", bundle.SQL)
	}
}

func TestAssembleEmptyResult(t *testing.T) {
	plan := Plan{
		Intent:     intent.OrdersByCustomer,
		Mode:       "classic",
		Source:     sqlguard.SourceTemplate,
		Params:     intent.Params{intent.ParamCID: int64(999999)},
		Args:       []any{int64(999999)},
		ScanColumn: "rows_scanned",
	}
	report := validReport(t, "SELECT Inventory.IID FROM Inventory WHERE Inventory.CID = ?")
	bundle := newTestAssembler().Assemble(Input{
		Plan:    plan,
		Report:  report,
		Result:  &query.Result{Columns: []string{"IID", "rows_scanned"}, Rows: [][]any{}},
		Quality: cleanQuality(),
	})
	if bundle.Error == nil || bundle.Error.Category != CategoryEmptyResult || bundle.Error.Message != "no matching rows" {
		t.Fatalf("Error = %+v", bundle.Error)
	}
	if bundle.Suggestion == "" || bundle.AnswerText != "" || bundle.RowsScanned != 0 || len(bundle.SampleRows) != 0 {
		t.Fatalf("bundle = %+v", bundle)
	}
	if bundle.SQL == "" {
		t.Fatal("executed SQL should be reported for an empty result")
	}
	if bundle.Confidence != 0.25 {
		t.Fatalf("Confidence = %v", bundle.Confidence)
	}
	if bundle.Chart != nil {
		t.Fatalf("Chart = %+v, want none without rows", bundle.Chart)
	}
}

func TestAssembleValidationFailureOmitsFactualFields(t *testing.T) {
	report := sqlguard.New(schema.Default(), sqlguard.Config{DefaultLimit: 200, MaxLimit: 1000}).
		Validate("SELECT * FROM Customer; DROP TABLE Customer;", sqlguard.Options{Source: sqlguard.SourceLLM})
	bundle := newTestAssembler().Assemble(Input{
		Plan:   Plan{Mode: "assisted", Source: sqlguard.SourceLLM, SQL: "SELECT * FROM Customer; DROP TABLE Customer;"},
		Report: report,
	})
	if bundle.Error == nil || bundle.Error.Category != CategoryValidation {
		t.Fatalf("Error = %+v", bundle.Error)
	}
	if bundle.SQL != "" || bundle.AnswerText != "" || len(bundle.SampleRows) != 0 || len(bundle.TablesUsed) != 0 {
		t.Fatalf("factual fields leaked: %+v", bundle)
	}
	encoded, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(encoded), "DROP TABLE") {
		t.Fatalf("rejected SQL echoed: %s", encoded)
	}
	if bundle.Suggestion == "" || bundle.Confidence >= 0.75 {
		t.Fatalf("bundle = %+v", bundle)
	}
}

func TestAssembleTimeoutMarksExecutionCheck(t *testing.T) {
	report := validReport(t, "SELECT Detail.product_id FROM Detail")
	bundle := newTestAssembler().Assemble(Input{
		Plan:    Plan{Intent: intent.TopProducts, Mode: "classic", Source: sqlguard.SourceTemplate},
		Report:  report,
		Err:     &query.ExecutionError{Op: "execute query", Err: query.ErrTimeout},
		Timeout: 2 * time.Second,
	})
	if bundle.Error == nil || bundle.Error.Category != CategoryExecutionTimeout {
		t.Fatalf("Error = %+v", bundle.Error)
	}
	last := bundle.Validations[len(bundle.Validations)-1]
	if last.Name != sqlguard.CheckExecutionTimeout || last.Status != sqlguard.StatusFail {
		t.Fatalf("last validation = %+v", last)
	}
	if len(report.Checks) == len(bundle.Validations) {
		t.Fatal("input report was mutated or check not appended")
	}
	if bundle.AnswerText != "" || len(bundle.SampleRows) != 0 || bundle.RowsScanned != 0 {
		t.Fatalf("partial data leaked: %+v", bundle)
	}
}

func TestAssembleExecutionError(t *testing.T) {
	report := validReport(t, "SELECT Detail.product_id FROM Detail")
	bundle := newTestAssembler().Assemble(Input{
		Plan:   Plan{Mode: "assisted", Source: sqlguard.SourceLLM},
		Report: report,
		Err:    &query.ExecutionError{Op: "execute query", Err: errors.New("Conversion Error")},
	})
	if bundle.Error == nil || bundle.Error.Category != CategoryExecution {
		t.Fatalf("Error = %+v", bundle.Error)
	}
	if !strings.Contains(bundle.Suggestion, "Classic") {
		t.Fatalf("Suggestion = %q", bundle.Suggestion)
	}
}

func TestConfidencePenalties(t *testing.T) {
	report := validReport(t, "SELECT Detail.product_id FROM Detail")
	dirty := &quality.Report{
		Orphans: []quality.OrphanRate{
			{Join: "Inventory.CID->Customer.CID", Rate: 0.2},
			{Join: "Detail.IID->Inventory.IID", Rate: 0.001},
		},
		NullOrderDateRate: 0.1,
		NegativeTotals:    2,
		MaxOrderDate:      time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	bundle := newTestAssembler().Assemble(Input{
		Plan:    Plan{Mode: "assisted", Source: sqlguard.SourceLLM},
		Report:  report,
		Result:  &query.Result{Columns: []string{"product_id"}, Rows: [][]any{{"P001"}}, RowCount: 1},
		Quality: dirty,
	})
	// 0.75 - 0.1 orphan - 0.05 null - 0.15 negative - 0.1 stale
	if bundle.Confidence != 0.35 {
		t.Fatalf("Confidence = %v", bundle.Confidence)
	}
	if len(bundle.Badges) != 4 {
		t.Fatalf("Badges = %+v", bundle.Badges)
	}
	if bundle.AnswerText != "Query returned 1 row." {
		t.Fatalf("AnswerText = %q", bundle.AnswerText)
	}
}

func TestConfidenceIsClamped(t *testing.T) {
	s := newScore(sqlguard.Report{Checks: []sqlguard.Check{
		{Name: sqlguard.CheckStatementShape, Status: sqlguard.StatusFail},
		{Name: sqlguard.CheckStatementCount, Status: sqlguard.StatusFail},
		{Name: sqlguard.CheckTableWhitelist, Status: sqlguard.StatusFail},
	}})
	if got, _ := s.result(); got != minConfidence {
		t.Fatalf("result() = %v", got)
	}
}

func TestAssistedFollowUpsPreferModel(t *testing.T) {
	report := validReport(t, "SELECT Detail.product_id FROM Detail")
	bundle := newTestAssembler().Assemble(Input{
		Plan:    Plan{Mode: "assisted", Source: sqlguard.SourceLLM, FollowUps: []string{"a", "b", "a", "c", "d"}},
		Report:  report,
		Result:  &query.Result{Columns: []string{"product_id"}, Rows: [][]any{{"P001"}, {"P002"}}, RowCount: 2},
		Quality: cleanQuality(),
	})
	if strings.Join(bundle.FollowUps, ",") != "a,b,c" {
		t.Fatalf("FollowUps = %v", bundle.FollowUps)
	}
}

func TestNoMatchAndClientFailureShapes(t *testing.T) {
	assembler := newTestAssembler()
	miss := assembler.NoMatch("classic", intent.NoMatch{Intent: intent.RevenueByPeriod, Reason: "no time period", Suggestion: "Revenue last 30 days"}, time.Millisecond)
	if miss.Error.Category != CategoryNoMatch || miss.Intent != intent.RevenueByPeriod || miss.Suggestion == "" || miss.SQL != "" {
		t.Fatalf("NoMatch() = %+v", miss)
	}
	client := assembler.ClientFailure("assisted", "model returned no sql", nil, time.Millisecond)
	if client.Error.Category != CategoryClient || !strings.Contains(client.Suggestion, "Classic") {
		t.Fatalf("ClientFailure() = %+v", client)
	}
	if len(client.FollowUps) == 0 || client.Source != sqlguard.SourceLLM {
		t.Fatalf("ClientFailure() = %+v", client)
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := map[float64]string{
		0:         "$0.00",
		12345.67:  "$12,345.67",
		1234567.5: "$1,234,567.50",
		-42.1:     "-$42.10",
	}
	for in, want := range cases {
		if got := FormatCurrency(in); got != want {
			t.Fatalf("FormatCurrency(%v) = %q, want %q", in, got, want)
		}
	}
}
