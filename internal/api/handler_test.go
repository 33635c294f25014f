package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duckqa/duckqa/internal/answer"
	"github.com/duckqa/duckqa/internal/config"
	"github.com/duckqa/duckqa/internal/dataset"
	"github.com/duckqa/duckqa/internal/evidence"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/report"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
)

type fakeAnswerer struct {
	questions []answer.Question
	bundle    evidence.Bundle
	assisted  bool
}

func (f *fakeAnswerer) Answer(_ context.Context, question answer.Question) evidence.Bundle {
	f.questions = append(f.questions, question)
	return f.bundle
}

func (f *fakeAnswerer) SchemaContext(_ context.Context) string {
	return "Customer(CID, name)"
}

func (f *fakeAnswerer) AssistedEnabled() bool {
	return f.assisted
}

type fakeReporter struct {
	requests []report.Request
	response report.Response
	err      error
}

func (f *fakeReporter) Report(_ context.Context, req report.Request) (report.Response, error) {
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func (f *fakeReporter) TableStats(_ context.Context, table string) (report.TableStats, error) {
	if !strings.EqualFold(table, "Customer") {
		return report.TableStats{}, fmt.Errorf("%w %q", report.ErrUnknownTable, table)
	}
	return report.TableStats{Table: "Customer", RowCount: 2}, f.err
}

type fakeDataset struct {
	status     dataset.Status
	refreshErr error
	refreshes  int
}

func (f *fakeDataset) Refresh(_ context.Context) (dataset.Status, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return f.status, f.refreshErr
	}
	f.status.Loaded = true
	f.status.Version = fmt.Sprintf("v%d", f.refreshes)
	return f.status, nil
}

func (f *fakeDataset) Status() dataset.Status {
	return f.status
}

func (f *fakeDataset) Loaded() bool {
	return f.status.Loaded
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("duckqa-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var decoded map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response: %v (body=%s)", err, rr.Body.String())
		}
	}
	return rr, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr, body := do(t, h, http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["service"] != "duckqa-api" {
		t.Fatalf("body = %v", body)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("missing trace header")
	}
}

func TestReadyEndpointReturns503UntilDatasetLoaded(t *testing.T) {
	manager := &fakeDataset{}
	h := NewHandler(testConfig(t), Dependencies{Readiness: CheckDatasetLoaded(manager)})

	rr, body := do(t, h, http.MethodGet, "/v1/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}

	manager.status.Loaded = true
	rr, _ = do(t, h, http.MethodGet, "/v1/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status after load = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	do(t, h, http.MethodGet, "/v1/health", "")
	rr, _ := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "duckqa_http_requests_total") {
		t.Fatal("metrics output is missing duckqa_http_requests_total")
	}
}

func TestAskReturnsBundle(t *testing.T) {
	answers := &fakeAnswerer{bundle: evidence.Bundle{ID: "b-1", Mode: "classic", Intent: "top_products", RowCount: 5}}
	h := NewHandler(testConfig(t), Dependencies{Answers: answers})

	rr, body := do(t, h, http.MethodPost, "/v1/ask", `{"question":"  Top 5 products ","mode":"AI"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if body["id"] != "b-1" || body["row_count"] != float64(5) {
		t.Fatalf("body = %v", body)
	}
	if len(answers.questions) != 1 {
		t.Fatalf("questions = %v", answers.questions)
	}
	if got := answers.questions[0]; got.Text != "Top 5 products" || got.Mode != answer.ModeAssisted {
		t.Fatalf("question = %+v", got)
	}
}

func TestAskReturnsFailedBundlesWith200(t *testing.T) {
	answers := &fakeAnswerer{bundle: evidence.Bundle{
		ID:    "b-2",
		Mode:  "classic",
		Error: &evidence.Error{Category: evidence.CategoryNoMatch, Message: "no intent matched"},
	}}
	h := NewHandler(testConfig(t), Dependencies{Answers: answers})

	rr, body := do(t, h, http.MethodPost, "/v1/ask", `{"question":"what is the weather"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	errBody, ok := body["error"].(map[string]any)
	if !ok || errBody["category"] != "no_match" {
		t.Fatalf("error = %v", body["error"])
	}
	if answers.questions[0].Mode != answer.ModeClassic {
		t.Fatalf("mode = %s", answers.questions[0].Mode)
	}
}

func TestAskRejectsBadRequests(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Answers: &fakeAnswerer{}})
	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed", body: `{"question":`, code: "INVALID_JSON"},
		{name: "unknown field", body: `{"question":"x","sql":"DROP TABLE Customer"}`, code: "INVALID_JSON"},
		{name: "empty", body: `{"question":"   "}`, code: "QUESTION_REQUIRED"},
		{name: "too long", body: `{"question":"` + strings.Repeat("a", maxQuestionRunes+1) + `"}`, code: "QUESTION_TOO_LONG"},
		{name: "mode", body: `{"question":"top 5 products","mode":"turbo"}`, code: "INVALID_MODE"},
		{name: "date format", body: `{"question":"revenue","filters":{"date_range":{"from":"03/01/2024","to":"2024-03-31"}}}`, code: "INVALID_DATE_RANGE"},
		{name: "date order", body: `{"question":"revenue","filters":{"date_range":{"from":"2024-04-01","to":"2024-03-31"}}}`, code: "INVALID_DATE_RANGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := do(t, h, http.MethodPost, "/v1/ask", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if body["error_code"] != tc.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tc.code)
			}
			if body["trace_id"] == "" {
				t.Fatal("missing trace_id")
			}
		})
	}
}

func TestAskPassesDateRange(t *testing.T) {
	answers := &fakeAnswerer{}
	h := NewHandler(testConfig(t), Dependencies{Answers: answers})

	rr, _ := do(t, h, http.MethodPost, "/v1/ask", `{"question":"revenue","filters":{"date_range":{"from":"2024-03-01","to":"2024-03-31"}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	got := answers.questions[0].DateRange
	if got == nil || got.From.Format(time.DateOnly) != "2024-03-01" || got.To.Format(time.DateOnly) != "2024-03-31" {
		t.Fatalf("DateRange = %+v", got)
	}
}

func TestAskNotConfigured(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr, body := do(t, h, http.MethodPost, "/v1/ask", `{"question":"top 5 products"}`)
	if rr.Code != http.StatusNotImplemented || body["error_code"] != "ASK_NOT_CONFIGURED" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestValidateReportsChecksWithoutExecuting(t *testing.T) {
	guard := sqlguard.New(schema.Default(), sqlguard.Config{DefaultLimit: 200, MaxLimit: 1000})
	h := NewHandler(testConfig(t), Dependencies{Guard: guard})

	rr, body := do(t, h, http.MethodPost, "/v1/validate", `{"sql":"SELECT name FROM Customer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if body["valid"] != true || body["source"] != "llm" {
		t.Fatalf("body = %v", body)
	}
	if sql, _ := body["rewritten_sql"].(string); !strings.HasSuffix(sql, "LIMIT 200") {
		t.Fatalf("rewritten_sql = %v", body["rewritten_sql"])
	}

	rr, body = do(t, h, http.MethodPost, "/v1/validate", `{"sql":"SELECT * FROM Customer; DROP TABLE Customer","source":"template"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["valid"] != false || body["rewritten_sql"] != nil {
		t.Fatalf("body = %v", body)
	}
	checks, _ := body["checks"].([]any)
	failed := false
	for _, raw := range checks {
		check := raw.(map[string]any)
		if check["name"] == "statement_count" && check["status"] == "fail" {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("checks = %v", checks)
	}
}

func TestValidateRejectsBadRequests(t *testing.T) {
	guard := sqlguard.New(schema.Default(), sqlguard.Config{})
	h := NewHandler(testConfig(t), Dependencies{Guard: guard})

	rr, body := do(t, h, http.MethodPost, "/v1/validate", `{"sql":""}`)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "SQL_REQUIRED" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	rr, body = do(t, h, http.MethodPost, "/v1/validate", `{"sql":"SELECT 1","source":"user"}`)
	if rr.Code != http.StatusBadRequest || body["error_code"] != "INVALID_SOURCE" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Registry: schema.Default(), Answers: &fakeAnswerer{assisted: true}})

	rr, body := do(t, h, http.MethodGet, "/v1/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	tables, ok := body["tables"].([]any)
	if !ok || len(tables) != 4 {
		t.Fatalf("tables = %v", body["tables"])
	}
	first := tables[0].(map[string]any)
	if first["name"] != "Customer" {
		t.Fatalf("first table = %v", first["name"])
	}
	if joins, _ := body["joins"].([]any); len(joins) != 3 {
		t.Fatalf("joins = %v", body["joins"])
	}
	if body["context"] != "Customer(CID, name)" || body["assisted_enabled"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestRefreshAndStatusEndpoints(t *testing.T) {
	manager := &fakeDataset{status: dataset.Status{Source: "local", Tables: []dataset.TableStatus{{Name: "Customer", Rows: 3}}}}
	h := NewHandler(testConfig(t), Dependencies{Dataset: manager})

	rr, body := do(t, h, http.MethodGet, "/v1/datasource/status", "")
	if rr.Code != http.StatusOK || body["loaded"] != false {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}

	rr, body = do(t, h, http.MethodPost, "/v1/datasource/refresh", "")
	if rr.Code != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	ds := body["dataset"].(map[string]any)
	if ds["version"] != "v1" || ds["loaded"] != true {
		t.Fatalf("dataset = %v", ds)
	}

	rr, body = do(t, h, http.MethodGet, "/v1/datasource/status", "")
	if rr.Code != http.StatusOK || body["version"] != "v1" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
}

func TestRefreshMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("stage: %w", dataset.ErrTableMissing), status: http.StatusUnprocessableEntity, code: "TABLE_FILE_MISSING"},
		{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "REFRESH_TIMEOUT"},
		{err: errors.New("disk full"), status: http.StatusInternalServerError, code: "REFRESH_FAILED"},
	}
	for _, tc := range cases {
		h := NewHandler(testConfig(t), Dependencies{Dataset: &fakeDataset{refreshErr: tc.err}})
		rr, body := do(t, h, http.MethodPost, "/v1/datasource/refresh", "")
		if rr.Code != tc.status || body["error_code"] != tc.code {
			t.Fatalf("err %v: status = %d body = %v", tc.err, rr.Code, body)
		}
	}
}

func TestDatasetRoutesNotConfigured(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/v1/datasource/refresh"},
		{http.MethodGet, "/v1/datasource/status"},
		{http.MethodGet, "/v1/schema"},
		{http.MethodPost, "/v1/validate"},
	} {
		rr, _ := do(t, h, route.method, route.path, `{"sql":"SELECT 1"}`)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s %s status = %d", route.method, route.path, rr.Code)
		}
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckObjectStoreConfigOnlyAppliesToS3(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("local source error = %v", err)
	}
	cfg.Dataset.Source = config.DatasetSourceS3
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing bucket error")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestReportEndpoint(t *testing.T) {
	reports := &fakeReporter{response: report.Response{Type: report.RevenueByMonth, SummaryText: "Revenue by month", SQL: []string{"SELECT 1"}}}
	h := NewHandler(testConfig(t), Dependencies{Reports: reports})

	rr, body := do(t, h, http.MethodPost, "/v1/report", `{"type":"revenue_by_month","filters":{"k":3,"date_range":{"from":"2024-01-01","to":"2024-06-30"}}}`)
	if rr.Code != http.StatusOK || body["summary_text"] != "Revenue by month" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	got := reports.requests[0]
	if got.Type != report.RevenueByMonth || got.K != 3 || got.DateRange == nil || got.DateRange.To.Format(time.DateOnly) != "2024-06-30" {
		t.Fatalf("request = %+v", got)
	}
}

func TestReportMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "unknown type", body: `{"type":"churn"}`, err: fmt.Errorf("%w %q", report.ErrUnknownType, "churn"), status: http.StatusBadRequest, code: "UNKNOWN_REPORT_TYPE"},
		{name: "timeout", body: `{"type":"revenue_trend"}`, err: &query.ExecutionError{Op: "execute query", Err: query.ErrTimeout}, status: http.StatusGatewayTimeout, code: "QUERY_TIMEOUT"},
		{name: "failure", body: `{"type":"revenue_trend"}`, err: errors.New("binder error"), status: http.StatusInternalServerError, code: "QUERY_FAILED"},
		{name: "no dates", body: `{"type":"revenue_trend"}`, err: report.ErrNoGroundingDate, status: http.StatusBadRequest, code: "INVALID_DATE_RANGE"},
		{name: "bad range", body: `{"type":"revenue_trend","filters":{"date_range":{"from":"2024-02-01","to":"2024-01-01"}}}`, status: http.StatusBadRequest, code: "INVALID_DATE_RANGE"},
		{name: "bad k", body: `{"type":"top_customers","filters":{"k":5000}}`, status: http.StatusBadRequest, code: "INVALID_K"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(testConfig(t), Dependencies{Reports: &fakeReporter{err: tc.err}})
			rr, body := do(t, h, http.MethodPost, "/v1/report", tc.body)
			if rr.Code != tc.status || body["error_code"] != tc.code {
				t.Fatalf("status = %d body = %v", rr.Code, body)
			}
		})
	}
}

func TestTableStatsEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Reports: &fakeReporter{}})

	rr, body := do(t, h, http.MethodGet, "/v1/stats/Customer", "")
	if rr.Code != http.StatusOK || body["table"] != "Customer" || body["row_count"] != float64(2) {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	rr, body = do(t, h, http.MethodGet, "/v1/stats/passwords", "")
	if rr.Code != http.StatusNotFound || body["error_code"] != "UNKNOWN_TABLE" {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}

	unconfigured := NewHandler(testConfig(t), Dependencies{})
	if rr, _ := do(t, unconfigured, http.MethodPost, "/v1/report", `{"type":"top_customers"}`); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured status = %d", rr.Code)
	}
}
