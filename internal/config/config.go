package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the ask proxy server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"3000"`

	// Trust the first X-Forwarded-For hop as the caller address.
	// Only enable behind a reverse proxy that overwrites the header.
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`

	// Upstream generative model configuration
	UpstreamProvider string `envconfig:"UPSTREAM_PROVIDER" default:"gemini"` // gemini, openai
	UpstreamAPIKey   string `envconfig:"UPSTREAM_API_KEY"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"` // accepted when UPSTREAM_API_KEY is unset
	UpstreamModel    string `envconfig:"UPSTREAM_MODEL" default:""`
	UpstreamBaseURL  string `envconfig:"UPSTREAM_BASE_URL" default:""`
	UpstreamTimeout  int    `envconfig:"UPSTREAM_TIMEOUT" default:"30"` // seconds, per attempt

	// Persona YAML file; built-in persona when empty
	PersonaFile string `envconfig:"PERSONA_FILE" default:""`

	// Rate limiting (fixed window, per caller address)
	RateLimitWindow int `envconfig:"RATE_LIMIT_WINDOW" default:"60"` // seconds
	RateLimitMax    int `envconfig:"RATE_LIMIT_MAX" default:"10"`    // admitted requests per window

	// Upstream retry policy
	RetryMaxAttempts int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"` // total attempts including the first
	RetryDelay       int `envconfig:"RETRY_DELAY" default:"2000"`     // fixed delay in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.UpstreamAPIKey == "" {
		c.UpstreamAPIKey = c.GeminiAPIKey
	}
	if c.UpstreamAPIKey == "" {
		return fmt.Errorf("UPSTREAM_API_KEY is required")
	}

	c.UpstreamProvider = strings.ToLower(c.UpstreamProvider)
	switch c.UpstreamProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("UPSTREAM_PROVIDER must be gemini or openai, got %q", c.UpstreamProvider)
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// RateLimitWindowDuration returns the fixed window length
func (c *Config) RateLimitWindowDuration() time.Duration {
	return time.Duration(c.RateLimitWindow) * time.Second
}

// RetryDelayDuration returns the fixed delay between upstream attempts
func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

// UpstreamTimeoutDuration returns the per-attempt upstream timeout
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Second
}
