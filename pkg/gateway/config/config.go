// Package config loads the gateway configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	// JWTSecret verifies HS256 bearer tokens carrying the caller identity.
	JWTSecret string

	// CORS allowlist; empty disables cross-origin access.
	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64

	// Sliding-window rate limit per principal.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// RedisURL backs the limiter; empty falls back to in-memory.
	RedisURL string

	// Upstream realtime provider used to mint ephemeral credentials.
	RealtimeAPIKey  string
	RealtimeBaseURL string
	RealtimeModel   string

	// Postgres store. Empty disables conversations/knowledge/caller routes.
	DatabaseURL string
	// Migrate applies embedded migrations at startup.
	Migrate bool

	// Tool backends.
	CalendlyAPIKey   string
	CalendlyEventURL string
	CalendlyBaseURL  string
	ResendAPIKey     string
	ResendFrom       string
	ResendBaseURL    string
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	GeminiAPIKey     string
	GeminiModel      string

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Telemetry metrics dump interval; 0 disables the meter provider.
	MetricsInterval time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:               envOr("VOCALIS_GATEWAY_ADDR", ":8080"),
		AuthMode:           AuthMode(envOr("VOCALIS_GATEWAY_AUTH_MODE", string(AuthModeOptional))),
		JWTSecret:          os.Getenv("VOCALIS_GATEWAY_JWT_SECRET"),
		CORSAllowedOrigins: make(map[string]struct{}),

		MaxBodyBytes: envInt64Or("VOCALIS_GATEWAY_MAX_BODY_BYTES", 1<<20),

		RateLimitRequests: envIntOr("VOCALIS_GATEWAY_RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:   envDurationOr("VOCALIS_GATEWAY_RATE_LIMIT_WINDOW", time.Minute),
		RedisURL:          os.Getenv("VOCALIS_GATEWAY_REDIS_URL"),

		RealtimeAPIKey:  os.Getenv("VOCALIS_GATEWAY_REALTIME_API_KEY"),
		RealtimeBaseURL: envOr("VOCALIS_GATEWAY_REALTIME_BASE_URL", "https://api.openai.com/v1"),
		RealtimeModel:   envOr("VOCALIS_GATEWAY_REALTIME_MODEL", "gpt-realtime"),

		DatabaseURL: os.Getenv("VOCALIS_GATEWAY_DATABASE_URL"),
		Migrate:     envBoolOr("VOCALIS_GATEWAY_MIGRATE", false),

		CalendlyAPIKey:   os.Getenv("VOCALIS_GATEWAY_CALENDLY_API_KEY"),
		CalendlyEventURL: os.Getenv("VOCALIS_GATEWAY_CALENDLY_EVENT_URL"),
		CalendlyBaseURL:  envOr("VOCALIS_GATEWAY_CALENDLY_BASE_URL", ""),
		ResendAPIKey:     os.Getenv("VOCALIS_GATEWAY_RESEND_API_KEY"),
		ResendFrom:       os.Getenv("VOCALIS_GATEWAY_RESEND_FROM"),
		ResendBaseURL:    envOr("VOCALIS_GATEWAY_RESEND_BASE_URL", ""),
		EmbeddingAPIKey:  os.Getenv("VOCALIS_GATEWAY_EMBEDDING_API_KEY"),
		EmbeddingBaseURL: envOr("VOCALIS_GATEWAY_EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:   envOr("VOCALIS_GATEWAY_EMBEDDING_MODEL", "text-embedding-3-small"),
		GeminiAPIKey:     os.Getenv("VOCALIS_GATEWAY_GEMINI_API_KEY"),
		GeminiModel:      envOr("VOCALIS_GATEWAY_GEMINI_MODEL", "gemini-2.0-flash"),

		ReadHeaderTimeout:   envDurationOr("VOCALIS_GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOCALIS_GATEWAY_READ_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod: envDurationOr("VOCALIS_GATEWAY_SHUTDOWN_GRACE", 15*time.Second),

		MetricsInterval: envDurationOr("VOCALIS_GATEWAY_METRICS_INTERVAL", 0),
	}

	for _, origin := range splitCSV(os.Getenv("VOCALIS_GATEWAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("invalid VOCALIS_GATEWAY_AUTH_MODE %q", c.AuthMode)
	}
	if c.AuthMode != AuthModeDisabled && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("VOCALIS_GATEWAY_JWT_SECRET is required when auth_mode=%s", c.AuthMode)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("VOCALIS_GATEWAY_MAX_BODY_BYTES must be > 0")
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("VOCALIS_GATEWAY_RATE_LIMIT_REQUESTS must be >= 0")
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("VOCALIS_GATEWAY_RATE_LIMIT_WINDOW must be > 0")
	}
	if strings.TrimSpace(c.RealtimeAPIKey) == "" {
		return fmt.Errorf("VOCALIS_GATEWAY_REALTIME_API_KEY is required")
	}
	if _, err := url.Parse(c.RealtimeBaseURL); err != nil {
		return fmt.Errorf("invalid VOCALIS_GATEWAY_REALTIME_BASE_URL: %w", err)
	}
	if c.Migrate && strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("VOCALIS_GATEWAY_MIGRATE=1 requires VOCALIS_GATEWAY_DATABASE_URL")
	}
	if c.ReadHeaderTimeout <= 0 || c.ReadTimeout <= 0 || c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
