package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is matched by every configuration error raised when a
// component is used without the settings it needs.
var ErrNotConfigured = errors.New("not configured")

// Error reports a missing configuration value.
type Error struct {
	Field string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s is not configured", e.Field)
}

func (e *Error) Unwrap() error {
	return ErrNotConfigured
}

// Missing returns a configuration error for field.
func Missing(field string) error {
	return &Error{Field: field}
}

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Acuity     AcuityConfig     `json:"acuity" yaml:"acuity"`
	PassKit    PassKitConfig    `json:"passkit" yaml:"passkit"`
	Membership MembershipConfig `json:"membership" yaml:"membership"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Webhooks   WebhooksConfig   `json:"webhooks" yaml:"webhooks"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port           string `json:"port" yaml:"port"`
	Host           string `json:"host" yaml:"host"`
	AllowedOrigins string `json:"allowed_origins" yaml:"allowed_origins"`
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size" yaml:"max_request_body_size"`
}

// AcuityConfig holds booking API credentials.
type AcuityConfig struct {
	UserID        string `json:"user_id" yaml:"user_id"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	BaseURL       string `json:"base_url" yaml:"base_url"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

// PassKitConfig holds wallet API credentials and the target program.
type PassKitConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	APISecret      string `json:"api_secret" yaml:"api_secret"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	ProgramID      string `json:"program_id" yaml:"program_id"`
	InstallBaseURL string `json:"install_base_url" yaml:"install_base_url"`
}

// MembershipConfig controls which orders count as membership purchases.
type MembershipConfig struct {
	// Comma-separated, case-insensitive substrings of the product title.
	ProductFilter string `json:"product_filter" yaml:"product_filter"`
}

// StoreConfig selects the optional durable backend.
type StoreConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // "", "none", "redis", "sqlite", "memory"
	RedisURL   string `json:"redis_url" yaml:"redis_url"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
}

// WebhooksConfig holds the default for the webhook-enabled flag.
type WebhooksConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Rate    int  `json:"rate" yaml:"rate"`
	Window  int  `json:"window" yaml:"window"` // in seconds
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Environment string `json:"environment" yaml:"environment"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			AllowedOrigins:     "*",
			MaxRequestBodySize: 1 << 20,
		},
		Acuity: AcuityConfig{
			BaseURL: "https://acuityscheduling.com/api/v1",
		},
		PassKit: PassKitConfig{
			BaseURL:        "https://api.pub1.passkit.io",
			InstallBaseURL: "https://pub1.pskt.io",
		},
		Webhooks: WebhooksConfig{Enabled: true},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    60,
			Window:  60,
		},
		Tracing: TracingConfig{
			ServiceName: "acuity-passkit-bridge",
			Environment: "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from an optional JSON or YAML file and the
// environment. Environment variables take precedence over file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg, os.Getenv)

	return cfg, nil
}

// loadFromFile decodes path into cfg, choosing the codec by extension.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config, getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			*dst = parseBool(v)
		}
	}
	setInt := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}

	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setString(&cfg.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	if v := getenv("MAX_REQUEST_BODY_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxRequestBodySize = size
		}
	}

	setString(&cfg.Acuity.UserID, "ACUITY_USER_ID")
	setString(&cfg.Acuity.APIKey, "ACUITY_API_KEY")
	setString(&cfg.Acuity.BaseURL, "ACUITY_BASE_URL")
	setString(&cfg.Acuity.WebhookSecret, "ACUITY_WEBHOOK_SECRET")

	setString(&cfg.PassKit.APIKey, "PASSKIT_API_KEY")
	setString(&cfg.PassKit.APISecret, "PASSKIT_API_SECRET")
	setString(&cfg.PassKit.BaseURL, "PASSKIT_BASE_URL")
	setString(&cfg.PassKit.ProgramID, "PASSKIT_PROGRAM_ID")
	setString(&cfg.PassKit.InstallBaseURL, "PASSKIT_INSTALL_BASE_URL")

	setString(&cfg.Membership.ProductFilter, "MEMBERSHIP_PRODUCT_FILTER")

	setString(&cfg.Store.Backend, "STORE_BACKEND")
	setString(&cfg.Store.RedisURL, "REDIS_URL")
	setString(&cfg.Store.SQLitePath, "SQLITE_PATH")

	setBool(&cfg.Webhooks.Enabled, "WEBHOOKS_ENABLED")

	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "TRACING_ENDPOINT")
	setString(&cfg.Tracing.ServiceName, "TRACING_SERVICE_NAME")
	setString(&cfg.Tracing.Environment, "TRACING_ENVIRONMENT")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// WebhookSecret returns the shared secret used to verify inbound webhook
// signatures. Acuity signs with the account API key unless told otherwise.
func (c *Config) WebhookSecret() string {
	if c.Acuity.WebhookSecret != "" {
		return c.Acuity.WebhookSecret
	}
	return c.Acuity.APIKey
}

// Validate validates the structural parts of the configuration. Upstream
// credentials are checked lazily by the clients that need them.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max request body size must be positive")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "", "none", "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis store backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite store backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
