// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Slug disambiguation strategies.
const (
	// SlugStrategyTweetID appends the source tweet id to the slug base.
	// Deterministic, no store round-trip.
	SlugStrategyTweetID = "tweet_id"
	// SlugStrategyCounter probes the store for the bare base and appends an
	// incrementing counter until an unused slug is found.
	SlugStrategyCounter = "counter"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string

	SlugStrategy   string
	SlugMaxBaseLen int
	SlugMaxLen     int
	SlugMaxProbes  int

	// SearchLanguage selects the stopword profile applied to text before
	// full-text indexing.
	SearchLanguage string

	MetricsAddr string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:   envOrDefault("DATABASE_PATH", "./data/hatewatch.db"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		SlugStrategy:   envOrDefault("SLUG_STRATEGY", SlugStrategyTweetID),
		SearchLanguage: envOrDefault("SEARCH_LANGUAGE", "spanish"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	if cfg.SlugStrategy != SlugStrategyTweetID && cfg.SlugStrategy != SlugStrategyCounter {
		return nil, fmt.Errorf("invalid SLUG_STRATEGY %q", cfg.SlugStrategy)
	}

	var err error
	if cfg.SlugMaxBaseLen, err = envOrDefaultInt("SLUG_MAX_BASE_LEN", 60); err != nil {
		return nil, err
	}
	if cfg.SlugMaxLen, err = envOrDefaultInt("SLUG_MAX_LEN", 130); err != nil {
		return nil, err
	}
	if cfg.SlugMaxProbes, err = envOrDefaultInt("SLUG_MAX_PROBES", 64); err != nil {
		return nil, err
	}
	if cfg.SlugMaxBaseLen <= 0 || cfg.SlugMaxLen <= 0 || cfg.SlugMaxProbes <= 0 {
		return nil, fmt.Errorf("slug bounds must be positive")
	}
	if cfg.SlugMaxBaseLen > cfg.SlugMaxLen {
		return nil, fmt.Errorf("SLUG_MAX_BASE_LEN %d exceeds SLUG_MAX_LEN %d", cfg.SlugMaxBaseLen, cfg.SlugMaxLen)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
