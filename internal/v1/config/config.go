package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	Port string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Relay sizing
	MaxClientsPerGame int
	HubQueueSize      int
	ClientQueueSize   int
	ReplayCapacity    int

	// Rate limits (ulule/limiter formatted, e.g. "600-M")
	RateLimitUpgrades string

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

// ValidateEnv validates the environment and returns a Config object.
// Returns an error listing every invalid variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// PORT (defaults to 8080)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.MaxClientsPerGame = positiveInt("MAX_CLIENTS_PER_GAME", 50, &errs)
	cfg.HubQueueSize = positiveInt("HUB_QUEUE_SIZE", 64, &errs)
	cfg.ClientQueueSize = positiveInt("CLIENT_QUEUE_SIZE", 512, &errs)
	cfg.ReplayCapacity = positiveInt("REPLAY_CAPACITY", 256, &errs)

	// The client queue must hold a full replay window plus fresh
	// traffic, or reconnections would trip the overflow policy.
	if cfg.ClientQueueSize <= cfg.ReplayCapacity {
		errs = append(errs, fmt.Sprintf("CLIENT_QUEUE_SIZE (%d) must exceed REPLAY_CAPACITY (%d)",
			cfg.ClientQueueSize, cfg.ReplayCapacity))
	}

	cfg.RateLimitUpgrades = getEnvOrDefault("RATE_LIMIT_UPGRADES", "600-M")

	cfg.TracingEnabled = os.Getenv("ENABLE_TRACING") == "true"
	cfg.OTLPEndpoint = getEnvOrDefault("OTLP_ENDPOINT", "localhost:4317")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// positiveInt reads an integer variable that must be > 0, with a default.
func positiveInt(key string, def int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return def
	}
	return n
}

// getEnvOrDefault returns the environment variable or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// Origins splits ALLOWED_ORIGINS into a list, or returns the fallback
// when unset.
func (c *Config) Origins(fallback []string) []string {
	if c.AllowedOrigins == "" {
		return fallback
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
