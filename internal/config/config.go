package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"` // ops mux: health, metrics, websocket

	// Lead API
	APIListenAddr    string `envconfig:"API_LISTEN_ADDR" default:":5000"`
	APIAuthMode      string `envconfig:"API_AUTH_MODE" default:"api-key"` // "api-key", "jwt" or "none"
	APIKey           string `envconfig:"API_KEY"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	CORSOrigins      string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS     int    `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst   int    `envconfig:"RATE_LIMIT_BURST" default:"40"`
	MaxListPageLimit int    `envconfig:"MAX_LIST_PAGE_LIMIT" default:"500"`

	// Storage
	DBPath          string        `envconfig:"DB_PATH" default:"funnel.db"`
	KVBackend       string        `envconfig:"KV_BACKEND" default:"sqlite"` // "sqlite" or "memory"
	KVCapacity      int           `envconfig:"KV_CAPACITY" default:"10000"`
	KVRetention     time.Duration `envconfig:"KV_RETENTION" default:"24h"`
	RetentionPeriod time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`
	DBSizeWarnBytes int64         `envconfig:"DB_SIZE_WARN_BYTES" default:"1073741824"`

	// Exit-intent engine
	TunablesPath string `envconfig:"TUNABLES_PATH"`

	// Notifications (optional)
	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
	SlackChannel    string `envconfig:"SLACK_CHANNEL"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SlackEnabled returns true if a Slack webhook is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackWebhookURL != ""
}

// AllowedOrigins returns the CORS origin list. Outside production an empty
// setting allows any origin; in production it allows none.
func (c *Config) AllowedOrigins() string {
	if c.CORSOrigins != "" {
		return c.CORSOrigins
	}
	if c.IsProduction() {
		return ""
	}
	return "*"
}

// Validate checks settings that envconfig cannot.
func (c *Config) Validate() error {
	switch c.APIAuthMode {
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when API_AUTH_MODE=api-key")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when API_AUTH_MODE=jwt")
		}
	case "none":
		if c.IsProduction() {
			return fmt.Errorf("API_AUTH_MODE=none is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown API_AUTH_MODE %q", c.APIAuthMode)
	}
	switch c.KVBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown KV_BACKEND %q", c.KVBackend)
	}
	if c.KVBackend == "sqlite" && c.KVRetention <= 0 {
		return fmt.Errorf("KV_RETENTION must be positive, got %s", c.KVRetention)
	}
	return nil
}

// CheckRetention rejects a KV retention that would purge suppression records
// before they expire. Retention deletes rows by write age, so it must cover
// the whole suppression window.
func (c *Config) CheckRetention(suppressionWindow time.Duration) error {
	if c.KVBackend != "sqlite" {
		return nil
	}
	if c.KVRetention < suppressionWindow {
		return fmt.Errorf("KV_RETENTION (%s) must be at least the suppression window (%s)", c.KVRetention, suppressionWindow)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
