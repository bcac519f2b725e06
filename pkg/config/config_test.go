package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"negative write timeout", func(c *Config) { c.Server.WriteTimeout = -time.Second }},
		{"pong timeout not above ping interval", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"zero request ttl", func(c *Config) { c.Negotiation.RequestTTL = 0 }},
		{"same upload dirs", func(c *Config) { c.Uploads.CompletedDir = c.Uploads.TempDir }},
		{"zero max file size", func(c *Config) { c.Uploads.MaxFileSize = 0 }},
		{"zero merge workers", func(c *Config) { c.Uploads.MergeWorkers = 0 }},
		{"expiry without schedule", func(c *Config) { c.Expiry.Schedule = "" }},
		{"tracing sample rate above 1", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"http rps must be > 0", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{"ws burst must be > 0", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.Burst = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":5000" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := []byte(`
server:
  address: ":7000"
presence:
  dedupe_by_address: true
uploads:
  max_file_size: 1048576
  allowed_extensions:
    documents: ["pdf", "txt"]
`)
	if err := os.WriteFile(path, yamlData, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("LANLINK_LOG_LEVEL", "debug")
	t.Setenv("LANLINK_UPLOAD_MERGE_WORKERS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":7000" {
		t.Errorf("expected address from yaml, got %q", cfg.Server.Address)
	}
	if !cfg.Presence.DedupeByAddress {
		t.Errorf("expected dedupe_by_address from yaml")
	}
	if cfg.Uploads.MaxFileSize != 1048576 {
		t.Errorf("expected max_file_size from yaml, got %d", cfg.Uploads.MaxFileSize)
	}
	if got := cfg.Uploads.AllowedExtensions["documents"]; len(got) != 2 {
		t.Errorf("expected 2 document extensions, got %v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level from env, got %q", cfg.Logging.Level)
	}
	if cfg.Uploads.MergeWorkers != 4 {
		t.Errorf("expected merge workers from env, got %d", cfg.Uploads.MergeWorkers)
	}
	// untouched defaults survive
	if cfg.Signal.Path != "/ws" {
		t.Errorf("expected default signal path, got %q", cfg.Signal.Path)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid yaml")
	}
}
