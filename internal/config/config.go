package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DatasetSourceLocal    = "local"
	DatasetSourceS3       = "s3"
	DatasetSourcePostgres = "postgres"
)

const (
	AIProviderOpenAI    = "openai"
	AIProviderAnthropic = "anthropic"
	AIProviderGemini    = "gemini"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Dataset       DatasetConfig
	ObjectStore   ObjectStoreConfig
	Postgres      PostgresConfig
	Query         QueryConfig
	Quality       QualityConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Schema        SchemaConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatasetConfig selects where the four CSV tables come from and where the
// converted parquet cache lives.
type DatasetConfig struct {
	Source          string
	Dir             string
	CacheDir        string
	RefreshOnStart  bool
	// RefreshInterval enables periodic refreshes when positive.
	RefreshInterval time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type PostgresConfig struct {
	DSN             string
	Schema          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type QueryConfig struct {
	Timeout        time.Duration
	DefaultLimit   int
	MaxLimit       int
	CacheSize      int
	SampleRows     int
	MaxConnections int
}

type QualityConfig struct {
	OrphanRateThreshold float64
	NullRateThreshold   float64
	StaleAfter          time.Duration
}

type AIConfig struct {
	Enabled           bool
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	FallbackModel     string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	SchemaSampleRows  int
	// SiteURL and AppName are sent as OpenRouter attribution headers.
	SiteURL string
	AppName string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type SchemaConfig struct {
	RegistryPath string
}

// LoadFromEnv reads an optional env file (DUCKQA_ENV_FILE, default .env)
// before resolving configuration from the process environment. Variables
// already set in the environment win over the file.
func LoadFromEnv(serviceName string) (Config, error) {
	envFile := ".env"
	if raw, ok := os.LookupEnv("DUCKQA_ENV_FILE"); ok && strings.TrimSpace(raw) != "" {
		envFile = strings.TrimSpace(raw)
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DUCKQA_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DUCKQA_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "DUCKQA_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "DUCKQA_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DUCKQA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DUCKQA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DUCKQA_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "DUCKQA_DATASET_SOURCE", &cfg.Dataset.Source) },
		func() error { return applyString(lookup, "DUCKQA_DATASET_DIR", &cfg.Dataset.Dir) },
		func() error { return applyString(lookup, "DUCKQA_DATASET_CACHE_DIR", &cfg.Dataset.CacheDir) },
		func() error { return applyBool(lookup, "DUCKQA_DATASET_REFRESH_ON_START", &cfg.Dataset.RefreshOnStart) },
		func() error {
			return applyDuration(lookup, "DUCKQA_DATASET_REFRESH_INTERVAL", &cfg.Dataset.RefreshInterval)
		},

		func() error { return applyString(lookup, "DUCKQA_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "DUCKQA_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "DUCKQA_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "DUCKQA_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "DUCKQA_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "DUCKQA_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "DUCKQA_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "DUCKQA_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyString(lookup, "DUCKQA_POSTGRES_DSN", &cfg.Postgres.DSN) },
		func() error { return applyString(lookup, "DUCKQA_POSTGRES_SCHEMA", &cfg.Postgres.Schema) },
		func() error { return applyInt(lookup, "DUCKQA_POSTGRES_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns) },
		func() error { return applyInt(lookup, "DUCKQA_POSTGRES_MAX_IDLE_CONNS", &cfg.Postgres.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "DUCKQA_POSTGRES_CONN_MAX_IDLE_TIME", &cfg.Postgres.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "DUCKQA_POSTGRES_CONN_MAX_LIFETIME", &cfg.Postgres.ConnMaxLifetime)
		},

		func() error { return applyDuration(lookup, "DUCKQA_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "DUCKQA_QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit) },
		func() error { return applyInt(lookup, "DUCKQA_QUERY_MAX_LIMIT", &cfg.Query.MaxLimit) },
		func() error { return applyInt(lookup, "DUCKQA_QUERY_CACHE_SIZE", &cfg.Query.CacheSize) },
		func() error { return applyInt(lookup, "DUCKQA_QUERY_SAMPLE_ROWS", &cfg.Query.SampleRows) },
		func() error { return applyInt(lookup, "DUCKQA_QUERY_MAX_CONNECTIONS", &cfg.Query.MaxConnections) },

		func() error {
			return applyFloat(lookup, "DUCKQA_QUALITY_ORPHAN_RATE_THRESHOLD", &cfg.Quality.OrphanRateThreshold)
		},
		func() error {
			return applyFloat(lookup, "DUCKQA_QUALITY_NULL_RATE_THRESHOLD", &cfg.Quality.NullRateThreshold)
		},
		func() error { return applyDuration(lookup, "DUCKQA_QUALITY_STALE_AFTER", &cfg.Quality.StaleAfter) },

		func() error { return applyBool(lookup, "DUCKQA_AI_ENABLED", &cfg.AI.Enabled) },
		func() error { return applyString(lookup, "DUCKQA_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "DUCKQA_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "DUCKQA_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "DUCKQA_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyString(lookup, "DUCKQA_AI_FALLBACK_MODEL", &cfg.AI.FallbackModel) },
		func() error { return applyFloat(lookup, "DUCKQA_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "DUCKQA_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "DUCKQA_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyFloat(lookup, "DUCKQA_AI_REQUESTS_PER_SECOND", &cfg.AI.RequestsPerSecond) },
		func() error { return applyInt(lookup, "DUCKQA_AI_BURST", &cfg.AI.Burst) },
		func() error { return applyInt(lookup, "DUCKQA_AI_SCHEMA_SAMPLE_ROWS", &cfg.AI.SchemaSampleRows) },
		func() error { return applyString(lookup, "DUCKQA_AI_SITE_URL", &cfg.AI.SiteURL) },
		func() error { return applyString(lookup, "DUCKQA_AI_APP_NAME", &cfg.AI.AppName) },

		func() error { return applyBool(lookup, "DUCKQA_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "DUCKQA_LOG_LEVEL", &cfg.Observability.LogLevel) },

		func() error { return applyString(lookup, "DUCKQA_SCHEMA_REGISTRY_PATH", &cfg.Schema.RegistryPath) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch cfg.Dataset.Source {
	case DatasetSourceLocal, DatasetSourceS3, DatasetSourcePostgres:
	default:
		return fmt.Errorf("invalid DUCKQA_DATASET_SOURCE: %q", cfg.Dataset.Source)
	}
	if cfg.Dataset.CacheDir == "" {
		return fmt.Errorf("dataset cache dir is required")
	}
	if cfg.Dataset.RefreshInterval < 0 {
		return fmt.Errorf("dataset refresh interval must not be negative")
	}
	if cfg.Dataset.Source == DatasetSourcePostgres && cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres dataset source requires DUCKQA_POSTGRES_DSN")
	}
	if cfg.Query.Timeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if cfg.Query.MaxLimit <= 0 {
		return fmt.Errorf("query max limit must be positive")
	}
	if cfg.Query.DefaultLimit <= 0 || cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		return fmt.Errorf("query default limit must be within 1..%d", cfg.Query.MaxLimit)
	}
	if cfg.Query.SampleRows < 0 || cfg.Query.CacheSize < 0 {
		return fmt.Errorf("query sample rows and cache size must not be negative")
	}
	switch cfg.AI.Provider {
	case AIProviderOpenAI, AIProviderAnthropic, AIProviderGemini:
	default:
		return fmt.Errorf("invalid DUCKQA_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.Enabled && cfg.AI.Timeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "duckqa-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Dataset: DatasetConfig{
			Source:         DatasetSourceLocal,
			Dir:            "data",
			CacheDir:       "data/.cache",
			RefreshOnStart: true,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "duckqa",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "dataset",
		},
		Postgres: PostgresConfig{
			Schema:          "public",
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Query: QueryConfig{
			Timeout:        5 * time.Second,
			DefaultLimit:   200,
			MaxLimit:       1000,
			CacheSize:      256,
			SampleRows:     5,
			MaxConnections: 8,
		},
		Quality: QualityConfig{
			OrphanRateThreshold: 0.01,
			NullRateThreshold:   0.05,
			StaleAfter:          365 * 24 * time.Hour,
		},
		AI: AIConfig{
			Enabled:           false,
			Provider:          AIProviderOpenAI,
			BaseURL:           "",
			Model:             "gpt-4o-mini",
			FallbackModel:     "",
			Temperature:       0.1,
			MaxTokens:         800,
			Timeout:           20 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
			SchemaSampleRows:  2,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Dataset.RefreshOnStart = false
		cfg.Query.CacheSize = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.Query.Timeout = 3 * time.Second
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
