package duckqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after the command line was
// accepted. They exit with 1 instead of 2.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

var errNoCommand = errors.New("a command is required")

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	defaults.Stdout, defaults.Stderr = stdout, stderr

	root := NewRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

func NewRootCommand(defaults Options) *cobra.Command {
	c := &caller{
		baseURL: firstNonEmpty(defaults.BaseURL, "http://localhost:8080"),
		timeout: durationOr(defaults.Timeout, 10*time.Second),
		client:  defaults.HTTPClient,
		stdout:  defaults.Stdout,
	}

	root := &cobra.Command{
		Use:           "duckqactl",
		Short:         "Command line client for the duckqa API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return errNoCommand
		},
	}
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", c.baseURL, "duckqa API base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", c.timeout, "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		simpleCommand(c, "health", "Check liveness", http.MethodGet, "/v1/health"),
		simpleCommand(c, "ready", "Check readiness", http.MethodGet, "/v1/ready"),
		simpleCommand(c, "schema", "Show the dataset schema", http.MethodGet, "/v1/schema"),
		simpleCommand(c, "refresh", "Reload the dataset from its source", http.MethodPost, "/v1/datasource/refresh"),
		simpleCommand(c, "status", "Show dataset status", http.MethodGet, "/v1/datasource/status"),
		askCommand(c),
		validateCommand(c),
		reportCommand(c),
		statsCommand(c),
	)
	return root
}

func simpleCommand(c *caller, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s (%s %s)", short, method, path),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(cmd.Context(), method, path, nil)
		},
	}
}

func askCommand(c *caller) *cobra.Command {
	var mode, from, to string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question (POST /v1/ask)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"question": strings.Join(args, " "),
				"mode":     mode,
			}
			if dr := dateRangeFlags(from, to); dr != nil {
				payload["filters"] = map[string]any{"date_range": dr}
			}
			return c.call(cmd.Context(), http.MethodPost, "/v1/ask", payload)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "classic", "answer mode: classic or assisted")
	cmd.Flags().StringVar(&from, "from", "", "pin revenue questions to this start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "pin revenue questions to this end date (YYYY-MM-DD)")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

func reportCommand(c *caller) *cobra.Command {
	var from, to string
	var k int
	cmd := &cobra.Command{
		Use:       "report [type]",
		Short:     "Run a dashboard report (POST /v1/report)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"revenue_by_month", "top_customers", "top_products", "revenue_trend"},
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := map[string]any{}
			if k > 0 {
				filters["k"] = k
			}
			if dr := dateRangeFlags(from, to); dr != nil {
				filters["date_range"] = dr
			}
			return c.call(cmd.Context(), http.MethodPost, "/v1/report", map[string]any{
				"type":    args[0],
				"filters": filters,
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "range end (YYYY-MM-DD)")
	cmd.Flags().IntVar(&k, "k", 0, "rows for ranking reports")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

func statsCommand(c *caller) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [table]",
		Short: "Show row, null and distinct counts for a table (GET /v1/stats/{table})",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodGet, "/v1/stats/"+url.PathEscape(args[0]), nil)
		},
	}
}

func dateRangeFlags(from, to string) map[string]string {
	if from == "" && to == "" {
		return nil
	}
	return map[string]string{"from": from, "to": to}
}

func validateCommand(c *caller) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "validate [sql]",
		Short: "Run the SQL guard without executing (POST /v1/validate)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd.Context(), http.MethodPost, "/v1/validate", map[string]string{
				"sql":    strings.Join(args, " "),
				"source": source,
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "llm", "rule set to apply: llm or template")
	return cmd
}

type caller struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	stdout  io.Writer
}

func (c *caller) call(ctx context.Context, method, path string, payload any) error {
	client := c.client
	if client == nil {
		client = &http.Client{Timeout: c.timeout}
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, payload)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
