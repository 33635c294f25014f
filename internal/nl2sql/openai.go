package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const providerOpenAI = "openai-compatible"

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// SiteURL and AppName become OpenRouter attribution headers when set.
	SiteURL string
	AppName string
}

// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint,
// OpenRouter included.
type OpenAIGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	siteURL     string
	appName     string
	client      *http.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &OpenAIGenerator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		siteURL:     strings.TrimSpace(cfg.SiteURL),
		appName:     strings.TrimSpace(cfg.AppName),
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	result, err := g.generate(ctx, req)
	if err != nil {
		ce := clientError(providerOpenAI, g.model, "chat completion", err)
		ce.Summary = result.Summary
		return Result{}, ce
	}
	return result, nil
}

func (g *OpenAIGenerator) generate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(buildOpenAIPayload(g.model, g.temperature, g.maxTokens, req))
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	if g.siteURL != "" {
		httpReq.Header.Set("HTTP-Referer", g.siteURL)
	}
	if g.appName != "" {
		httpReq.Header.Set("X-Title", g.appName)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, truncate(string(rawRespBody), 200))
	}

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("empty chat completion choices")
	}

	result, err := parseGeneration(parsed.Choices[0].Message.Content)
	result.Provider = providerOpenAI
	result.Model = g.model
	if parsed.Model != "" {
		result.Model = parsed.Model
	}
	return result, err
}

func buildOpenAIPayload(model string, temperature float64, maxTokens int, req Request) map[string]any {
	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt(req)},
		},
		"temperature":     temperature,
		"max_tokens":      maxTokens,
		"response_format": map[string]string{"type": "json_object"},
	}
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}
