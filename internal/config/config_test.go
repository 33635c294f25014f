package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("duckqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.Source != DatasetSourceLocal {
		t.Fatalf("Dataset.Source = %q", cfg.Dataset.Source)
	}
	if !cfg.Dataset.RefreshOnStart {
		t.Fatal("Dataset.RefreshOnStart should default to true in dev")
	}
	if cfg.Query.Timeout != 5*time.Second {
		t.Fatalf("Query.Timeout = %s", cfg.Query.Timeout)
	}
	if cfg.Query.DefaultLimit != 200 || cfg.Query.MaxLimit != 1000 {
		t.Fatalf("Query limits = %d/%d", cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	}
	if cfg.Query.SampleRows != 5 {
		t.Fatalf("Query.SampleRows = %d", cfg.Query.SampleRows)
	}
	if cfg.Quality.OrphanRateThreshold != 0.01 {
		t.Fatalf("Quality.OrphanRateThreshold = %f", cfg.Quality.OrphanRateThreshold)
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false")
	}
	if cfg.AI.Provider != AIProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"DUCKQA_PROFILE": "prod"})
	cfg, err := Load("duckqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.Query.Timeout != 3*time.Second {
		t.Fatalf("Query.Timeout = %s", cfg.Query.Timeout)
	}
}

func TestLoadTestProfileDisablesCache(t *testing.T) {
	cfg, err := Load("duckqa-api", mapLookup(map[string]string{"DUCKQA_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Query.CacheSize != 0 || cfg.Dataset.RefreshOnStart {
		t.Fatalf("test profile = %+v / %+v", cfg.Query, cfg.Dataset)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"DUCKQA_PROFILE":                       "test",
		"DUCKQA_SERVICE_NAME":                  "duckqa-custom",
		"DUCKQA_HTTP_ADDR":                     ":9999",
		"DUCKQA_HTTP_READ_TIMEOUT":             "2s",
		"DUCKQA_HTTP_WRITE_TIMEOUT":            "3s",
		"DUCKQA_LOG_LEVEL":                     "error",
		"DUCKQA_DATASET_SOURCE":                "postgres",
		"DUCKQA_DATASET_CACHE_DIR":             "/var/cache/duckqa",
		"DUCKQA_POSTGRES_DSN":                  "postgres://example",
		"DUCKQA_POSTGRES_SCHEMA":               "sales",
		"DUCKQA_POSTGRES_MAX_OPEN_CONNS":       "9",
		"DUCKQA_DATASET_REFRESH_INTERVAL":      "15m",
		"DUCKQA_OBJECTSTORE_BUCKET":            "duckqa-prod",
		"DUCKQA_OBJECTSTORE_USE_SSL":           "true",
		"DUCKQA_OBJECTSTORE_PREFIX":            "exports/latest",
		"DUCKQA_QUERY_TIMEOUT":                 "750ms",
		"DUCKQA_QUERY_DEFAULT_LIMIT":           "50",
		"DUCKQA_QUERY_MAX_LIMIT":               "500",
		"DUCKQA_QUERY_CACHE_SIZE":              "64",
		"DUCKQA_QUERY_SAMPLE_ROWS":             "3",
		"DUCKQA_QUALITY_ORPHAN_RATE_THRESHOLD": "0.02",
		"DUCKQA_QUALITY_NULL_RATE_THRESHOLD":   "0.1",
		"DUCKQA_QUALITY_STALE_AFTER":           "720h",
		"DUCKQA_AI_ENABLED":                    "true",
		"DUCKQA_AI_PROVIDER":                   "anthropic",
		"DUCKQA_AI_BASE_URL":                   "https://api.example.com",
		"DUCKQA_AI_API_KEY":                    "secret-key",
		"DUCKQA_AI_MODEL":                      "model-a",
		"DUCKQA_AI_FALLBACK_MODEL":             "model-b",
		"DUCKQA_AI_TEMPERATURE":                "0.3",
		"DUCKQA_AI_MAX_TOKENS":                 "1200",
		"DUCKQA_AI_TIMEOUT":                    "21s",
		"DUCKQA_AI_REQUESTS_PER_SECOND":        "0.5",
		"DUCKQA_SCHEMA_REGISTRY_PATH":          "/etc/duckqa/registry.yaml",
	})
	cfg, err := Load("duckqa-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "duckqa-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.Source != DatasetSourcePostgres || cfg.Dataset.CacheDir != "/var/cache/duckqa" || cfg.Dataset.RefreshInterval != 15*time.Minute {
		t.Fatalf("Dataset = %+v", cfg.Dataset)
	}
	if cfg.Postgres.DSN != "postgres://example" || cfg.Postgres.Schema != "sales" || cfg.Postgres.MaxOpenConns != 9 {
		t.Fatalf("Postgres = %+v", cfg.Postgres)
	}
	if cfg.ObjectStore.Bucket != "duckqa-prod" || !cfg.ObjectStore.UseSSL || cfg.ObjectStore.Prefix != "exports/latest" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Query.Timeout != 750*time.Millisecond {
		t.Fatalf("Query.Timeout = %s", cfg.Query.Timeout)
	}
	if cfg.Query.DefaultLimit != 50 || cfg.Query.MaxLimit != 500 || cfg.Query.CacheSize != 64 || cfg.Query.SampleRows != 3 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Quality.OrphanRateThreshold != 0.02 || cfg.Quality.NullRateThreshold != 0.1 || cfg.Quality.StaleAfter != 720*time.Hour {
		t.Fatalf("Quality = %+v", cfg.Quality)
	}
	if !cfg.AI.Enabled || cfg.AI.Provider != AIProviderAnthropic {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.BaseURL != "https://api.example.com" || cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI endpoint = %q key = %q", cfg.AI.BaseURL, cfg.AI.APIKey)
	}
	if cfg.AI.Model != "model-a" || cfg.AI.FallbackModel != "model-b" {
		t.Fatalf("AI models = %q/%q", cfg.AI.Model, cfg.AI.FallbackModel)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.MaxTokens != 1200 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.RequestsPerSecond != 0.5 {
		t.Fatalf("AI.RequestsPerSecond = %f", cfg.AI.RequestsPerSecond)
	}
	if cfg.Schema.RegistryPath != "/etc/duckqa/registry.yaml" {
		t.Fatalf("Schema.RegistryPath = %q", cfg.Schema.RegistryPath)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"DUCKQA_PROFILE": "oops"},
		{"DUCKQA_HTTP_READ_TIMEOUT": "NaN"},
		{"DUCKQA_POSTGRES_MAX_OPEN_CONNS": "oops"},
		{"DUCKQA_QUERY_MAX_LIMIT": "oops"},
		{"DUCKQA_QUERY_MAX_LIMIT": "0"},
		{"DUCKQA_QUERY_DEFAULT_LIMIT": "5000"},
		{"DUCKQA_QUERY_TIMEOUT": "0s"},
		{"DUCKQA_QUERY_SAMPLE_ROWS": "-1"},
		{"DUCKQA_DATASET_SOURCE": "ftp"},
		{"DUCKQA_DATASET_SOURCE": "postgres"},
		{"DUCKQA_DATASET_CACHE_DIR": ""},
		{"DUCKQA_AI_PROVIDER": "oracle"},
		{"DUCKQA_AI_TEMPERATURE": "bad"},
		{"DUCKQA_AI_ENABLED": "not-bool"},
		{"DUCKQA_QUALITY_STALE_AFTER": "soon"},
		{"DUCKQA_DATASET_REFRESH_INTERVAL": "-1m"},
		{"DUCKQA_LOG_LEVEL": "verbose"},
		{"DUCKQA_HTTP_ADDR": ""},
	}
	for _, env := range tests {
		_, err := Load("duckqa-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadFromEnvReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "duckqa.env")
	if err := os.WriteFile(envFile, []byte("DUCKQA_QUERY_SAMPLE_ROWS=4\nDUCKQA_HTTP_ADDR=:7070\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("DUCKQA_ENV_FILE", envFile)
	t.Setenv("DUCKQA_HTTP_ADDR", ":6060")

	cfg, err := LoadFromEnv("duckqa-api")
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("DUCKQA_QUERY_SAMPLE_ROWS") })
	if cfg.Query.SampleRows != 4 {
		t.Fatalf("Query.SampleRows = %d", cfg.Query.SampleRows)
	}
	if cfg.HTTP.Address != ":6060" {
		t.Fatalf("HTTP.Address = %q, environment should win over env file", cfg.HTTP.Address)
	}
}

func TestLoadFromEnvToleratesMissingEnvFile(t *testing.T) {
	t.Setenv("DUCKQA_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	if _, err := LoadFromEnv("duckqa-api"); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadObjectStoreAutoCreateBucket(t *testing.T) {
	cfg, err := Load("duckqa-demo-data", mapLookup(map[string]string{
		"DUCKQA_OBJECTSTORE_AUTO_CREATE_BUCKET": "true",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket = false, want true")
	}
}
