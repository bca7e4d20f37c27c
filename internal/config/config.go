// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC server (default ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - RULE_CACHE_TTL: how long the active rule list is reused
//     (default "30s", "0s" disables caching, must be >= 0).
//   - AUTH_RATE_LIMIT: failed auth attempts allowed per IP per minute
//     (default "10", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - NOTIFY_CHANNEL: Postgres LISTEN/NOTIFY channel for rule changes
//     (default "combo_rule_events").
//   - RUN_MIGRATIONS: apply embedded migrations on startup (default "true").
//
// Values may also come from a .env file via [LoadDotEnv]; variables already
// set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr              = ":8080"
	defaultGRPCAddr              = ":9090"
	defaultLogLevel              = "info"
	defaultLogFormat             = "json"
	defaultRuleCacheTTL          = 30 * time.Second
	defaultAuthRateLimit         = 10
	defaultMaxJSONBodySize int64 = 1 << 20 // 1MB
	defaultNotifyChannel         = "combo_rule_events"
)

// Config holds the runtime configuration for the comboz server.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	GRPCAddr        string
	LogLevel        string
	LogFormat       string
	RuleCacheTTL    time.Duration
	AuthRateLimit   int
	MaxJSONBodySize int64
	NotifyChannel   string
	RunMigrations   bool
}

// LoadDotEnv populates the process environment from the given files
// (".env" when none are given). Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	ruleCacheTTL := defaultRuleCacheTTL
	if value := strings.TrimSpace(os.Getenv("RULE_CACHE_TTL")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse RULE_CACHE_TTL: %w", err)
		}
		if parsed < 0 {
			return Config{}, errors.New("RULE_CACHE_TTL must be >= 0")
		}
		ruleCacheTTL = parsed
	}

	authRateLimit := defaultAuthRateLimit
	if value := strings.TrimSpace(os.Getenv("AUTH_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_RATE_LIMIT must be > 0")
		}
		authRateLimit = parsed
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	logFormat := strings.ToLower(envOrDefault("LOG_FORMAT", defaultLogFormat))
	if logFormat != "json" && logFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", logFormat)
	}

	runMigrations := true
	if v := strings.TrimSpace(os.Getenv("RUN_MIGRATIONS")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse RUN_MIGRATIONS: %w", err)
		}
		runMigrations = parsed
	}

	return Config{
		DatabaseURL:     databaseURL,
		HTTPAddr:        envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:        envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		LogLevel:        envOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:       logFormat,
		RuleCacheTTL:    ruleCacheTTL,
		AuthRateLimit:   authRateLimit,
		MaxJSONBodySize: maxJSONBodySize,
		NotifyChannel:   envOrDefault("NOTIFY_CHANNEL", defaultNotifyChannel),
		RunMigrations:   runMigrations,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
