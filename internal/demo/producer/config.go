package producer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	OutputDir        string
	Customers        int
	Orders           int
	Products         int
	MaxLinesPerOrder int
	// OrphanRate is the share of orders whose CID has no Customer row.
	OrphanRate float64
	// EndDate is the newest order date; orders spread over Days before it.
	EndDate time.Time
	Days    int
	Seed    int64
	// Upload copies the generated files to the configured object store.
	Upload bool
	// APIBaseURL, when set, receives a dataset refresh after writing.
	APIBaseURL  string
	HTTPTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		OutputDir:        "./data",
		Customers:        200,
		Orders:           2000,
		Products:         40,
		MaxLinesPerOrder: 5,
		OrphanRate:       0.01,
		EndDate:          time.Now().UTC().Truncate(24 * time.Hour),
		Days:             365,
		Seed:             time.Now().UTC().UnixNano(),
		HTTPTimeout:      5 * time.Minute,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "DUCKQA_DEMO_OUTPUT_DIR", &cfg.OutputDir); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQA_DEMO_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQA_DEMO_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQA_DEMO_PRODUCTS", &cfg.Products); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQA_DEMO_MAX_LINES_PER_ORDER", &cfg.MaxLinesPerOrder); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "DUCKQA_DEMO_ORPHAN_RATE", &cfg.OrphanRate); err != nil {
		return Config{}, err
	}
	if err := applyDate(lookup, "DUCKQA_DEMO_END_DATE", &cfg.EndDate); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQA_DEMO_DAYS", &cfg.Days); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "DUCKQA_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKQA_DEMO_UPLOAD", &cfg.Upload); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKQA_DEMO_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKQA_DEMO_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.OutputDir) == "" {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_OUTPUT_DIR is required")
	}
	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_CUSTOMERS must be > 0")
	}
	if cfg.Orders <= 0 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_ORDERS must be > 0")
	}
	if cfg.Products <= 0 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_PRODUCTS must be > 0")
	}
	if cfg.MaxLinesPerOrder <= 0 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_MAX_LINES_PER_ORDER must be > 0")
	}
	if cfg.OrphanRate < 0 || cfg.OrphanRate > 1 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_ORPHAN_RATE must be between 0 and 1")
	}
	if cfg.Days <= 0 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_DAYS must be > 0")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("DUCKQA_DEMO_HTTP_TIMEOUT must be > 0")
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg, nil
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
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyDate(lookup LookupFunc, key string, dst *time.Time) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
