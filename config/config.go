// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	OpenAI    OpenAIConfig
	Platforms PlatformsConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
	Webhook   WebhookConfig
	Content   ContentConfig
	Logging   LoggingConfig

	Environment string
	Debug       bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// AuthConfig holds inbound API authentication settings.
type AuthConfig struct {
	APIKey       string
	APIKeyHeader string
}

// OpenAIConfig holds model-provider settings.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// PlatformsConfig holds social-platform credentials.
type PlatformsConfig struct {
	MetaAccessToken     string
	LinkedInAccessToken string
}

// DatabaseConfig holds the Postgres connection settings. An empty URL
// disables the database entirely.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds the key-value store connection settings. An empty URL
// selects the in-memory store.
type RedisConfig struct {
	URL string
}

// RateLimitConfig holds inbound rate limiting settings.
type RateLimitConfig struct {
	PerMinute int
}

// UsageConfig holds daily spend ceilings; monthly ceilings derive from the
// tracker defaults.
type UsageConfig struct {
	Enabled           bool
	DailyRequestLimit int64
	DailyTokenLimit   int64
	DailyCostLimit    float64
}

// WebhookConfig holds webhook delivery and verification settings.
type WebhookConfig struct {
	Enabled       bool
	Secret        string
	Timeout       time.Duration
	RetryAttempts int
}

// ContentConfig holds content generation settings.
type ContentConfig struct {
	CachingEnabled   bool
	MaxContentLength int
	CacheTTL         time.Duration
	PricingFile      string
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level    string
	JSONLogs bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8000"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			APIKey:       getEnv("API_KEY", "change-me-to-secure-key"),
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
		},
		OpenAI: OpenAIConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
			Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 2000),
		},
		Platforms: PlatformsConfig{
			MetaAccessToken:     os.Getenv("META_ACCESS_TOKEN"),
			LinkedInAccessToken: os.Getenv("LINKEDIN_ACCESS_TOKEN"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Usage: UsageConfig{
			Enabled:           getEnvBool("ENABLE_USAGE_TRACKING", true),
			DailyRequestLimit: int64(getEnvInt("DAILY_REQUEST_LIMIT", 1000)),
			DailyTokenLimit:   int64(getEnvInt("DAILY_TOKEN_LIMIT", 1000000)),
			DailyCostLimit:    getEnvFloat("DAILY_COST_LIMIT", 50.0),
		},
		Webhook: WebhookConfig{
			Enabled:       getEnvBool("ENABLE_WEBHOOKS", true),
			Secret:        getEnv("WEBHOOK_SECRET", "webhook-secret-key"),
			Timeout:       getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
			RetryAttempts: getEnvInt("WEBHOOK_RETRY_ATTEMPTS", 3),
		},
		Content: ContentConfig{
			CachingEnabled:   getEnvBool("ENABLE_CACHING", true),
			MaxContentLength: getEnvInt("MAX_CONTENT_LENGTH", 4000),
			CacheTTL:         getEnvDuration("CONTENT_CACHE_TTL", time.Hour),
			PricingFile:      os.Getenv("PRICING_FILE"),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			JSONLogs: getEnvBool("JSON_LOGS", true),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
		Debug:       getEnvBool("DEBUG", true),
	}

	return cfg, nil
}

// Production reports whether the service runs with production hardening,
// which controls inbound webhook signature enforcement.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts either plain integers (seconds) or Go duration
// strings such as "90s" or "1h30m".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
