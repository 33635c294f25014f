// Package report runs the fixed dashboard reports and per-table column
// statistics. Every statement is rendered from a template or the schema
// registry and passes the SQL guard before it reaches the engine.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckqa/duckqa/internal/evidence"
	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
	"github.com/duckqa/duckqa/internal/sqltemplate"
)

const (
	RevenueByMonth = "revenue_by_month"
	TopCustomers   = "top_customers"
	TopProducts    = "top_products"
	RevenueTrend   = "revenue_trend"
)

var (
	ErrUnknownType     = errors.New("unknown report type")
	ErrUnknownTable    = errors.New("unknown table")
	ErrDateRange       = errors.New("invalid date range")
	ErrNoGroundingDate = errors.New("dataset has no order dates to anchor the default range")
)

// Types lists the supported report types.
func Types() []string {
	return []string{RevenueByMonth, TopCustomers, TopProducts, RevenueTrend}
}

// Grounding supplies the latest order date, which anchors the default range.
type Grounding interface {
	MaxOrderDate(ctx context.Context) (time.Time, error)
}

type Request struct {
	Type string
	// DateRange defaults to the twelve months ending at the latest order.
	DateRange *intent.Period
	// K bounds the ranking reports. Zero means five.
	K int
}

type Response struct {
	Type        string           `json:"type"`
	SummaryText string           `json:"summary_text"`
	TablesUsed  []string         `json:"tables_used"`
	SQL         []string         `json:"sql"`
	Charts      []evidence.Chart `json:"charts"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
}

type Config struct {
	QueryTimeout time.Duration
}

type Dependencies struct {
	Registry  *schema.Registry
	Guard     *sqlguard.Guard
	Engine    query.Engine
	Grounding Grounding
	Logger    *slog.Logger
}

type Service struct {
	registry  *schema.Registry
	templates *sqltemplate.Engine
	guard     *sqlguard.Guard
	engine    query.Engine
	grounding Grounding
	logger    *slog.Logger
	cfg       Config
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Registry == nil || deps.Guard == nil || deps.Engine == nil || deps.Grounding == nil {
		return nil, fmt.Errorf("registry, guard, engine and grounding are required")
	}
	templates, err := sqltemplate.NewWithTemplates(deps.Registry, reportTemplates())
	if err != nil {
		return nil, fmt.Errorf("compile report templates: %w", err)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  deps.Registry,
		templates: templates,
		guard:     deps.Guard,
		engine:    deps.Engine,
		grounding: deps.Grounding,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

func (s *Service) Report(ctx context.Context, req Request) (Response, error) {
	if _, ok := s.templates.Template(req.Type); !ok {
		return Response{}, fmt.Errorf("%w %q", ErrUnknownType, req.Type)
	}
	k := req.K
	if k == 0 {
		k = 5
	}
	params := map[string]any{intent.ParamK: k}

	var period intent.Period
	if req.Type != TopCustomers {
		var err error
		period, err = s.period(ctx, req.DateRange)
		if err != nil {
			return Response{}, err
		}
		params[intent.ParamFrom] = period.From
		params[intent.ParamTo] = period.To
	}

	rendered, err := s.templates.Render(req.Type, params)
	if err != nil {
		return Response{}, fmt.Errorf("render %s: %w", req.Type, err)
	}
	result, sql, err := s.execute(ctx, rendered.SQL, rendered.Args, sqlguard.Options{
		Source:       sqlguard.SourceTemplate,
		DefaultLimit: rendered.Limit,
		MaxLimit:     rendered.MaxLimit,
	})
	if err != nil {
		return Response{}, err
	}

	response := Response{Type: req.Type, TablesUsed: rendered.Tables, SQL: []string{sql}}
	if !period.From.IsZero() {
		response.From = period.From.Format(time.DateOnly)
		response.To = period.To.Format(time.DateOnly)
	}
	switch req.Type {
	case RevenueByMonth:
		series := evidence.SeriesFrom(result, "Revenue", "order_month", "revenue")
		response.Charts = []evidence.Chart{{Type: evidence.ChartBar, X: "order_month", Y: "revenue", Series: []evidence.Series{series}}}
		response.SummaryText = fmt.Sprintf("Revenue by month between %s and %s: %s.", response.From, response.To, evidence.FormatCurrency(sum(series)))
	case TopCustomers:
		series := evidence.SeriesFrom(result, "Revenue", "customer", "revenue")
		response.Charts = []evidence.Chart{{Type: evidence.ChartBar, X: "customer", Y: "revenue", Series: []evidence.Series{series}}}
		response.SummaryText = fmt.Sprintf("Top %d customers by revenue.", len(series.Data))
	case TopProducts:
		revenue := evidence.SeriesFrom(result, "Revenue", "product_id", "revenue")
		units := evidence.SeriesFrom(result, "Quantity", "product_id", "units")
		response.Charts = []evidence.Chart{{Type: evidence.ChartBar, X: "product_id", Y: "revenue", Series: []evidence.Series{revenue, units}}}
		response.SummaryText = fmt.Sprintf("Top %d products by revenue (%s to %s): %s total.", len(revenue.Data), response.From, response.To, evidence.FormatCurrency(sum(revenue)))
	case RevenueTrend:
		series := evidence.SeriesFrom(result, "Daily Revenue", "order_day", "revenue")
		response.Charts = []evidence.Chart{{Type: evidence.ChartLine, X: "order_day", Y: "revenue", Series: []evidence.Series{series}}}
		total := sum(series)
		days := max(len(series.Data), 1)
		response.SummaryText = fmt.Sprintf("Revenue trend from %s to %s: %s total, %s daily average.",
			response.From, response.To, evidence.FormatCurrency(total), evidence.FormatCurrency(total/float64(days)))
	}
	return response, nil
}

func (s *Service) period(ctx context.Context, pinned *intent.Period) (intent.Period, error) {
	if pinned != nil {
		if pinned.From.IsZero() || pinned.To.IsZero() || pinned.To.Before(pinned.From) {
			return intent.Period{}, ErrDateRange
		}
		return *pinned, nil
	}
	latest, err := s.grounding.MaxOrderDate(ctx)
	if err != nil {
		return intent.Period{}, fmt.Errorf("latest order date: %w", err)
	}
	if latest.IsZero() {
		return intent.Period{}, ErrNoGroundingDate
	}
	to := time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, time.UTC)
	from := time.Date(to.Year(), to.Month()-11, 1, 0, 0, 0, 0, time.UTC)
	return intent.Period{From: from, To: to, Label: "last 12 months"}, nil
}

// execute validates sql and runs the rewritten statement. A rejected
// template is a server bug, so the failed checks are logged and returned.
func (s *Service) execute(ctx context.Context, sql string, args []any, opts sqlguard.Options) (query.Result, string, error) {
	report := s.guard.Validate(sql, opts)
	if !report.Valid() {
		var reasons []string
		for _, check := range report.Failed() {
			reasons = append(reasons, fmt.Sprintf("%s: %s", check.Name, check.Message))
		}
		s.logger.ErrorContext(ctx, "report sql rejected", "checks", reasons)
		return query.Result{}, "", fmt.Errorf("report sql rejected: %s", strings.Join(reasons, "; "))
	}
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	result, err := s.engine.Execute(execCtx, query.Request{SQL: report.SQL, Args: args})
	if err != nil {
		return query.Result{}, report.SQL, err
	}
	return result, report.SQL, nil
}

func sum(series evidence.Series) float64 {
	var total float64
	for _, point := range series.Data {
		if v, ok := point[1].(float64); ok {
			total += v
		}
	}
	return total
}
