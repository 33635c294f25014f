package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Request struct {
	Question      string `json:"question"`
	SchemaContext string `json:"schema_context"`
}

type Result struct {
	SQL       string   `json:"sql"`
	Summary   string   `json:"summary"`
	FollowUps []string `json:"follow_ups"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
}

// Generator turns a question into one candidate SELECT statement. Every
// returned error is a *ClientError.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// ErrNoSQL marks a well-formed response whose sql field is empty. The model
// summary explains why.
var ErrNoSQL = errors.New("model returned no sql")

type ClientError struct {
	Provider string
	Model    string
	Op       string
	Err      error
	// Summary carries the model explanation when it declined to answer.
	Summary string
}

func (e *ClientError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Model, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Reason is the user-facing explanation for the failure.
func (e *ClientError) Reason() string {
	if errors.Is(e.Err, ErrNoSQL) && strings.TrimSpace(e.Summary) != "" {
		return strings.TrimSpace(e.Summary)
	}
	return "the assistant could not produce a query: " + e.Err.Error()
}

func clientError(provider, model, op string, err error) *ClientError {
	var existing *ClientError
	if errors.As(err, &existing) {
		return existing
	}
	return &ClientError{Provider: provider, Model: model, Op: op, Err: err}
}

const systemPrompt = "You are a careful data analyst that only writes DuckDB compatible SQL. " +
	"Reference only the tables and columns provided. " +
	"Always return a JSON object with keys \"sql\", \"summary\" and \"follow_ups\". " +
	"The \"sql\" field must be a single SELECT statement without comments. " +
	"If the question cannot be answered, set \"sql\" to an empty string and explain why in \"summary\"."

func userPrompt(req Request) string {
	return fmt.Sprintf(
		"%s\n\nHelpful DuckDB snippets: date_trunc('month', order_date), CURRENT_DATE - INTERVAL 30 DAY, strftime(order_date, '%%Y-%%m').\n"+
			"User question: %s\n\nRespond with JSON only, no prose.",
		strings.TrimSpace(req.SchemaContext),
		strings.TrimSpace(req.Question),
	)
}

// parseGeneration decodes the model's JSON answer. follow_ups may be a list
// or a single string.
func parseGeneration(content string) (Result, error) {
	trimmed := stripMarkdownJSON(content)
	if trimmed == "" {
		return Result{}, fmt.Errorf("empty model response")
	}
	var raw struct {
		SQL       *string         `json:"sql"`
		Summary   string          `json:"summary"`
		FollowUps json.RawMessage `json:"follow_ups"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Result{}, fmt.Errorf("decode model json: %w", err)
	}
	if raw.SQL == nil {
		return Result{}, fmt.Errorf("model response is missing the sql field")
	}
	followUps, err := decodeFollowUps(raw.FollowUps)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		SQL:       stripMarkdownSQL(*raw.SQL),
		Summary:   strings.TrimSpace(raw.Summary),
		FollowUps: followUps,
	}
	if result.SQL == "" {
		return result, ErrNoSQL
	}
	return result, nil
}

func decodeFollowUps(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("follow_ups must be a string or a list of strings")
	}
	if single = strings.TrimSpace(single); single == "" {
		return nil, nil
	}
	return []string{single}, nil
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

func stripMarkdownJSON(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
