// Package answer routes a question through intent matching or SQL
// generation, the SQL guard and the engine, and returns an evidence bundle.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckqa/duckqa/internal/evidence"
	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/nl2sql"
	"github.com/duckqa/duckqa/internal/observability"
	"github.com/duckqa/duckqa/internal/quality"
	"github.com/duckqa/duckqa/internal/query"
	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/sqlguard"
	"github.com/duckqa/duckqa/internal/sqltemplate"
)

// QualitySource supplies the dataset health report and the grounding date.
type QualitySource interface {
	Report(ctx context.Context) (quality.Report, error)
	MaxOrderDate(ctx context.Context) (time.Time, error)
}

type Config struct {
	QueryTimeout     time.Duration
	SchemaSampleRows int
}

type Dependencies struct {
	Registry  *schema.Registry
	Matcher   *intent.Matcher
	Templates *sqltemplate.Engine
	Guard     *sqlguard.Guard
	Engine    query.Engine
	Assembler *evidence.Assembler
	Quality   QualitySource
	// Generator is nil when assisted mode is disabled.
	Generator nl2sql.Generator
	Logger    *slog.Logger
}

// Service is stateless across requests; every dependency is read-only or
// safe for concurrent use.
type Service struct {
	registry  *schema.Registry
	matcher   *intent.Matcher
	templates *sqltemplate.Engine
	guard     *sqlguard.Guard
	engine    query.Engine
	assembler *evidence.Assembler
	quality   QualitySource
	generator nl2sql.Generator
	logger    *slog.Logger
	cfg       Config
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Registry == nil || deps.Matcher == nil || deps.Templates == nil || deps.Guard == nil {
		return nil, fmt.Errorf("registry, matcher, templates and guard are required")
	}
	if deps.Engine == nil || deps.Assembler == nil || deps.Quality == nil {
		return nil, fmt.Errorf("engine, assembler and quality source are required")
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
		matcher:   deps.Matcher,
		templates: deps.Templates,
		guard:     deps.Guard,
		engine:    deps.Engine,
		assembler: deps.Assembler,
		quality:   deps.Quality,
		generator: deps.Generator,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

func (s *Service) AssistedEnabled() bool {
	return s.generator != nil
}

// Answer is the single entry point for a question. Every outcome, failures
// included, is reported as a bundle.
func (s *Service) Answer(ctx context.Context, question Question) evidence.Bundle {
	start := time.Now()
	mode := question.Mode
	if mode == "" {
		mode = ModeClassic
	}

	var bundle evidence.Bundle
	switch mode {
	case ModeAssisted:
		bundle = s.assisted(ctx, assistedText(question), start)
	default:
		bundle = s.classic(ctx, question, start)
	}

	outcome := "answered"
	if bundle.Error != nil {
		outcome = string(bundle.Error.Category)
	}
	elapsed := time.Since(start)
	observability.ObserveQuestion(string(mode), outcome, elapsed)
	s.logger.InfoContext(ctx, "question answered",
		"mode", mode,
		"intent", bundle.Intent,
		"outcome", outcome,
		"rows", bundle.RowCount,
		"duration_ms", elapsed.Milliseconds(),
	)
	return bundle
}

func (s *Service) classic(ctx context.Context, question Question, start time.Time) evidence.Bundle {
	grounding, err := s.quality.MaxOrderDate(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "grounding date unavailable", "error", err)
	}

	match := s.matcher.Match(question.Text, grounding)
	if question.DateRange != nil {
		match = intent.WithDateRange(match, *question.DateRange)
	}
	observability.ObserveIntentMatch(match.Intent)
	if !match.Matched() {
		return s.assembler.NoMatch(string(ModeClassic), *match.NoMatch, time.Since(start))
	}

	rendered, err := s.templates.Render(match.Intent, match.Params)
	if err != nil {
		s.logger.ErrorContext(ctx, "render template", "intent", match.Intent, "error", err)
		return s.assembler.NoMatch(string(ModeClassic), intent.NoMatch{
			Intent:     match.Intent,
			Reason:     "could not build a query for this question",
			Suggestion: "Rephrase the question with an explicit id or time period.",
		}, time.Since(start))
	}

	plan := evidence.Plan{
		Intent:      match.Intent,
		Mode:        string(ModeClassic),
		Source:      sqlguard.SourceTemplate,
		Params:      match.Params,
		SQL:         rendered.SQL,
		Args:        rendered.Args,
		Limit:       rendered.Limit,
		ScanColumn:  rendered.ScanColumn,
		TotalColumn: rendered.TotalColumn,
	}
	return s.run(ctx, plan, sqlguard.Options{
		Source:       sqlguard.SourceTemplate,
		DefaultLimit: rendered.Limit,
		MaxLimit:     rendered.MaxLimit,
	}, start)
}

func (s *Service) assisted(ctx context.Context, text string, start time.Time) evidence.Bundle {
	mode := string(ModeAssisted)
	if s.generator == nil {
		return s.assembler.ClientFailure(mode, "assisted mode is not enabled on this server", nil, time.Since(start))
	}

	generation, err := s.generator.Generate(ctx, nl2sql.Request{
		Question:      text,
		SchemaContext: s.SchemaContext(ctx),
	})
	if err != nil {
		reason := "the assistant could not produce a query"
		var ce *nl2sql.ClientError
		if errors.As(err, &ce) {
			reason = ce.Reason()
		}
		s.logger.WarnContext(ctx, "sql generation failed", "error", err)
		return s.assembler.ClientFailure(mode, reason, generation.FollowUps, time.Since(start))
	}

	plan := evidence.Plan{
		Mode:      mode,
		Source:    sqlguard.SourceLLM,
		SQL:       generation.SQL,
		FollowUps: generation.FollowUps,
	}
	return s.run(ctx, plan, sqlguard.Options{Source: sqlguard.SourceLLM}, start)
}

// assistedText appends an explicit date range so the generator can filter
// on it.
func assistedText(question Question) string {
	if question.DateRange == nil {
		return question.Text
	}
	return fmt.Sprintf("%s (order_date between %s and %s)", question.Text,
		question.DateRange.From.Format(time.DateOnly), question.DateRange.To.Format(time.DateOnly))
}

// run validates the candidate and executes it only when every blocking
// check passed. A timeout is reported, never retried.
func (s *Service) run(ctx context.Context, plan evidence.Plan, opts sqlguard.Options, start time.Time) evidence.Bundle {
	report := s.guard.Validate(plan.SQL, opts)
	for _, check := range report.Failed() {
		observability.IncrementValidationFailure(string(check.Name), string(report.Source))
	}
	in := evidence.Input{Plan: plan, Report: report, Timeout: s.cfg.QueryTimeout}
	if !report.Valid() {
		s.logger.WarnContext(ctx, "candidate sql rejected", "source", report.Source, "intent", plan.Intent)
		in.Duration = time.Since(start)
		return s.assembler.Assemble(in)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	result, err := s.engine.Execute(execCtx, query.Request{SQL: report.SQL, Args: plan.Args})
	if err != nil {
		s.logger.WarnContext(ctx, "query execution failed", "intent", plan.Intent, "error", err)
		in.Err = err
	} else {
		in.Result = &result
		if qr, qerr := s.quality.Report(ctx); qerr == nil {
			in.Quality = &qr
		} else {
			s.logger.WarnContext(ctx, "quality report unavailable", "error", qerr)
		}
	}
	in.Duration = time.Since(start)
	return s.assembler.Assemble(in)
}

// SchemaContext renders the registry for SQL generation, with a few sample
// rows per table when configured.
func (s *Service) SchemaContext(ctx context.Context) string {
	if s.cfg.SchemaSampleRows <= 0 {
		return s.registry.Context(nil)
	}
	samples := make(schema.SampleRows)
	for _, table := range s.registry.Tables() {
		report := s.guard.Validate(fmt.Sprintf("SELECT * FROM %s", table.Name), sqlguard.Options{
			Source:       sqlguard.SourceTemplate,
			DefaultLimit: s.cfg.SchemaSampleRows,
			MaxLimit:     s.cfg.SchemaSampleRows,
		})
		if !report.Valid() {
			s.logger.WarnContext(ctx, "schema sample sql rejected", "table", table.Name, "checks", report.Failed())
			continue
		}
		sampleCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		result, err := s.engine.Execute(sampleCtx, query.Request{SQL: report.SQL})
		cancel()
		if err != nil {
			s.logger.DebugContext(ctx, "schema sample rows unavailable", "table", table.Name, "error", err)
			continue
		}
		samples[table.Name] = result.Records()
	}
	return s.registry.Context(samples)
}
