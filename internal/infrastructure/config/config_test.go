package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, "gateway:\n  id: gw-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Gateway.ID != "gw-test" {
		t.Errorf("gateway.id = %q, want gw-test", cfg.Gateway.ID)
	}
	if cfg.Poll.FailureThreshold != 3 {
		t.Errorf("poll.failure_threshold = %d, want default 3", cfg.Poll.FailureThreshold)
	}
	if cfg.Rules.HopLimit != 4 {
		t.Errorf("rules.hop_limit = %d, want default 4", cfg.Rules.HopLimit)
	}
	if cfg.Bus.RuleQueueSize != 1024 {
		t.Errorf("bus.rule_queue_size = %d, want default 1024", cfg.Bus.RuleQueueSize)
	}
}

func TestLoadFileValuesOverrideDefaults(t *testing.T) {
	path := writeConfigFile(t, `
gateway:
  id: gw-override
poll:
  default_interval: 250
  failure_threshold: 5
rules:
  hop_limit: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Poll.DefaultInterval != 250 {
		t.Errorf("poll.default_interval = %d, want 250", cfg.Poll.DefaultInterval)
	}
	if cfg.Poll.FailureThreshold != 5 {
		t.Errorf("poll.failure_threshold = %d, want 5", cfg.Poll.FailureThreshold)
	}
	if cfg.Rules.HopLimit != 2 {
		t.Errorf("rules.hop_limit = %d, want 2", cfg.Rules.HopLimit)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "gateway:\n  id: gw-env\n")

	t.Setenv("FIELDLINE_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("FIELDLINE_RULES_HOP_LIMIT", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("database.path = %q, want /tmp/override.db", cfg.Database.Path)
	}
	if cfg.Rules.HopLimit != 7 {
		t.Errorf("rules.hop_limit = %d, want 7", cfg.Rules.HopLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() with missing file: expected error, got nil")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty gateway id",
			mutate:  func(c *Config) { c.Gateway.ID = "" },
			wantErr: "gateway.id",
		},
		{
			name:    "zero rule queue",
			mutate:  func(c *Config) { c.Bus.RuleQueueSize = 0 },
			wantErr: "bus.rule_queue_size",
		},
		{
			name:    "negative hop limit",
			mutate:  func(c *Config) { c.Rules.HopLimit = -1 },
			wantErr: "rules.hop_limit",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Poll.FailureThreshold = 0 },
			wantErr: "poll.failure_threshold",
		},
		{
			name: "storage enabled without url",
			mutate: func(c *Config) {
				c.Sinks.Storage.Enabled = true
				c.Sinks.Storage.URL = ""
			},
			wantErr: "sinks.storage.url",
		},
		{
			name: "http sink enabled without url",
			mutate: func(c *Config) {
				c.Sinks.HTTP.Enabled = true
				c.Sinks.HTTP.URL = ""
			},
			wantErr: "sinks.http.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}
