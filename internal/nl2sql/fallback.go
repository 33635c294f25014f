package nl2sql

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/duckqa/duckqa/internal/observability"
)

type fallbackGenerator struct {
	primary   Generator
	secondary Generator
	logger    *slog.Logger
}

// WithFallback retries a failed generation once against secondary. A model
// that deliberately returned no sql is not retried.
func WithFallback(primary, secondary Generator, logger *slog.Logger) Generator {
	if secondary == nil {
		return primary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &fallbackGenerator{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallbackGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	result, err := f.primary.Generate(ctx, req)
	if err == nil || errors.Is(err, ErrNoSQL) || ctx.Err() != nil {
		return result, err
	}
	f.logger.Warn("primary model failed, trying fallback", "error", err)
	observability.IncrementLLMFallback()
	return f.secondary.Generate(ctx, req)
}

type instrumentedGenerator struct {
	next Generator
}

// Instrumented counts generations by provider and outcome.
func Instrumented(next Generator) Generator {
	return &instrumentedGenerator{next: next}
}

func (i *instrumentedGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	result, err := i.next.Generate(ctx, req)
	switch {
	case err == nil:
		observability.ObserveLLMRequest(result.Provider, "ok")
	case errors.Is(err, ErrNoSQL):
		observability.ObserveLLMRequest(providerOf(err), "no_sql")
	default:
		observability.ObserveLLMRequest(providerOf(err), "error")
	}
	return result, err
}

type rateLimitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

// RateLimited waits for a token before each generation. rps <= 0 disables
// limiting.
func RateLimited(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedGenerator{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimitedGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, &ClientError{Provider: "rate-limiter", Op: "wait", Err: err}
	}
	return r.next.Generate(ctx, req)
}

func providerOf(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) && ce.Provider != "" {
		return ce.Provider
	}
	return "unknown"
}
