package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const providerAnthropic = "anthropic"

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type AnthropicGenerator struct {
	client      sdk.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}
	// Retries belong to the fallback wrapper, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &AnthropicGenerator{
		client:      sdk.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   int64(maxTokens),
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	msg, err := g.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(g.model),
		MaxTokens:   g.maxTokens,
		Temperature: sdk.Float(g.temperature),
		System:      []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(userPrompt(req)))},
	})
	if err != nil {
		return Result{}, clientError(providerAnthropic, g.model, "create message", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	result, err := parseGeneration(text.String())
	if err != nil {
		ce := clientError(providerAnthropic, g.model, "create message", err)
		ce.Summary = result.Summary
		return Result{}, ce
	}
	result.Provider = providerAnthropic
	result.Model = string(msg.Model)
	if result.Model == "" {
		result.Model = g.model
	}
	return result, nil
}
