package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckqa/duckqa/internal/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// New builds the configured provider chain: primary model, at most one
// fallback model on the same provider, then the rate limiter.
func New(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Generator, error) {
	primary, err := newProvider(ctx, cfg, cfg.Model)
	if err != nil {
		return nil, err
	}
	var generator Generator = Instrumented(primary)
	if fallback := strings.TrimSpace(cfg.FallbackModel); fallback != "" && fallback != cfg.Model {
		secondary, err := newProvider(ctx, cfg, fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		generator = WithFallback(generator, Instrumented(secondary), logger)
	}
	return RateLimited(generator, cfg.RequestsPerSecond, cfg.Burst), nil
}

func newProvider(ctx context.Context, cfg config.AIConfig, model string) (Generator, error) {
	switch cfg.Provider {
	case config.AIProviderOpenAI, "":
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     baseURL,
			APIKey:      cfg.APIKey,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			SiteURL:     cfg.SiteURL,
			AppName:     cfg.AppName,
		})
	case config.AIProviderAnthropic:
		return NewAnthropicGenerator(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case config.AIProviderGemini:
		return NewGeminiGenerator(ctx, GeminiConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
