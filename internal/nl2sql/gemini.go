package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &GeminiGenerator{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(maxTokens),
		timeout:     timeout,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: userPrompt(req)}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
			Temperature:       genai.Ptr(g.temperature),
			MaxOutputTokens:   g.maxTokens,
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return Result{}, clientError(providerGemini, g.model, "generate content", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Result{}, clientError(providerGemini, g.model, "generate content", fmt.Errorf("empty candidates"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	result, err := parseGeneration(text.String())
	if err != nil {
		ce := clientError(providerGemini, g.model, "generate content", err)
		ce.Summary = result.Summary
		return Result{}, ce
	}
	result.Provider = providerGemini
	result.Model = g.model
	return result, nil
}
