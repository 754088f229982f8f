package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.Sync.IntervalSeconds != 30 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.RemoteConfigured() {
		t.Error("defaults must not claim a configured remote")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moneta.toml")
	content := `
log_level = "debug"
store_path = "/var/lib/moneta/moneta.db"
owner_id = "u1"

[sync]
interval_seconds = 10
max_attempts = 3

[remote]
project_id = "my-project"
dataset = "moneta"

[providers.gocardless]
secret_id = "sid"
secret_key = "skey"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Sync.IntervalSeconds != 10 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Sync.MaxAttempts)
	}
	if !cfg.RemoteConfigured() {
		t.Error("remote should be configured")
	}
	if cfg.Providers.GoCardless.SecretID != "sid" {
		t.Errorf("provider secret not read: %+v", cfg.Providers.GoCardless)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("untouched defaults should survive, got %q", cfg.API.ListenAddr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[sync]\ninterval_seconds = -1\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("negative interval should fail validation")
	}
}
