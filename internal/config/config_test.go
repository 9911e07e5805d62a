package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if !cfg.Webhooks.Enabled {
		t.Error("Expected webhooks to be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestOverrideFromEnv(t *testing.T) {
	cfg := Default()
	overrideFromEnv(cfg, envMap(map[string]string{
		"SERVER_PORT":               "9090",
		"ACUITY_USER_ID":            "1234",
		"ACUITY_API_KEY":            "acuity-key",
		"PASSKIT_PROGRAM_ID":        "prog-1",
		"MEMBERSHIP_PRODUCT_FILTER": "gold,platinum",
		"WEBHOOKS_ENABLED":          "false",
		"RATE_LIMIT_RATE":           "5",
		"STORE_BACKEND":             "redis",
		"REDIS_URL":                 "redis://localhost:6379/0",
	}))

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Acuity.UserID != "1234" || cfg.Acuity.APIKey != "acuity-key" {
		t.Errorf("Unexpected acuity config: %+v", cfg.Acuity)
	}
	if cfg.PassKit.ProgramID != "prog-1" {
		t.Errorf("Expected program id prog-1, got %s", cfg.PassKit.ProgramID)
	}
	if cfg.Membership.ProductFilter != "gold,platinum" {
		t.Errorf("Unexpected product filter %q", cfg.Membership.ProductFilter)
	}
	if cfg.Webhooks.Enabled {
		t.Error("Expected webhooks to be disabled")
	}
	if cfg.RateLimit.Rate != 5 {
		t.Errorf("Expected rate 5, got %d", cfg.RateLimit.Rate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(jsonPath, []byte(`{"passkit":{"program_id":"json-prog"}}`), 0o600); err != nil {
		t.Fatalf("Failed to write json config: %v", err)
	}
	yamlPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("passkit:\n  program_id: yaml-prog\nstore:\n  backend: sqlite\n  sqlite_path: ./bridge.db\n"), 0o600); err != nil {
		t.Fatalf("Failed to write yaml config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(jsonPath, cfg); err != nil {
		t.Fatalf("Failed to load json: %v", err)
	}
	if cfg.PassKit.ProgramID != "json-prog" {
		t.Errorf("Expected json-prog, got %s", cfg.PassKit.ProgramID)
	}
	if cfg.PassKit.BaseURL == "" {
		t.Error("Expected defaults to survive a partial file")
	}

	cfg = Default()
	if err := loadFromFile(yamlPath, cfg); err != nil {
		t.Fatalf("Failed to load yaml: %v", err)
	}
	if cfg.PassKit.ProgramID != "yaml-prog" {
		t.Errorf("Expected yaml-prog, got %s", cfg.PassKit.ProgramID)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLitePath != "./bridge.db" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "port"},
		{"redis without url", func(c *Config) { c.Store.Backend = "redis" }, "redis url"},
		{"sqlite without path", func(c *Config) { c.Store.Backend = "sqlite" }, "sqlite path"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "unknown store backend"},
		{"bad rate", func(c *Config) { c.RateLimit.Rate = 0 }, "rate"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMissingIsNotConfigured(t *testing.T) {
	err := Missing("passkit program id")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected errors.Is(err, ErrNotConfigured)")
	}
	if !strings.Contains(err.Error(), "passkit program id") {
		t.Errorf("Expected field name in message, got %q", err.Error())
	}
}

func TestWebhookSecretFallsBackToAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Acuity.APIKey = "key"
	if cfg.WebhookSecret() != "key" {
		t.Errorf("Expected api key fallback, got %q", cfg.WebhookSecret())
	}
	cfg.Acuity.WebhookSecret = "secret"
	if cfg.WebhookSecret() != "secret" {
		t.Errorf("Expected explicit secret, got %q", cfg.WebhookSecret())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "order_id", "42")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info entry to be filtered at warn level")
	}
	if !strings.Contains(out, `"order_id":"42"`) {
		t.Errorf("Expected structured attribute in output, got %s", out)
	}
}
