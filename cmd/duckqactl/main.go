package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/duckqa/duckqa/internal/cli/duckqactl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("DUCKQA_CLI_TIMEOUT")), 10*time.Second)
	options := duckqactl.Options{
		BaseURL: envOr("DUCKQA_API_URL", "http://localhost:8080"),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := duckqactl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid DUCKQA_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
