// Package config loads the daemon configuration from a TOML file.
// Every field has a sensible default so a minimal file (or none at
// all) still yields a runnable local-only setup.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel  string `toml:"log_level"`
	StorePath string `toml:"store_path"`
	OwnerID   string `toml:"owner_id"`

	API       APIConfig       `toml:"api"`
	Sync      SyncConfig      `toml:"sync"`
	Remote    RemoteConfig    `toml:"remote"`
	Providers ProvidersConfig `toml:"providers"`
	Notion    NotionConfig    `toml:"notion"`
	Backup    BackupConfig    `toml:"backup"`
	Advisor   AdvisorConfig   `toml:"advisor"`
}

// APIConfig configures the admin HTTP server.
type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// SyncConfig tunes the queue drain loop.
type SyncConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MaxAttempts     int `toml:"max_attempts"`
}

// RemoteConfig points at the BigQuery dataset acting as the remote
// authoritative store.
type RemoteConfig struct {
	ProjectID       string `toml:"project_id"`
	Dataset         string `toml:"dataset"`
	CredentialsFile string `toml:"credentials_file"`
}

// ProvidersConfig holds per-variant credentials. Empty credentials
// leave the variant unavailable.
type ProvidersConfig struct {
	Mono       MonoConfig       `toml:"mono"`
	GoCardless GoCardlessConfig `toml:"gocardless"`
	Plaid      PlaidConfig      `toml:"plaid"`
}

// MonoConfig configures the personal-token variant.
type MonoConfig struct {
	BaseURL string `toml:"base_url"`
}

// GoCardlessConfig configures the redirect-flow variant.
type GoCardlessConfig struct {
	BaseURL   string `toml:"base_url"`
	SecretID  string `toml:"secret_id"`
	SecretKey string `toml:"secret_key"`
}

// PlaidConfig configures the RPC variant.
type PlaidConfig struct {
	BaseURL  string `toml:"base_url"`
	ClientID string `toml:"client_id"`
	Secret   string `toml:"secret"`
}

// NotionConfig configures the reporting mirror.
type NotionConfig struct {
	Token          string `toml:"token"`
	TransactionsDB string `toml:"transactions_db"`
	AccountsDB     string `toml:"accounts_db"`
}

// BackupConfig configures snapshot uploads.
type BackupConfig struct {
	Bucket string `toml:"bucket"`
}

// AdvisorConfig configures the rule suggestion model.
type AdvisorConfig struct {
	Model string `toml:"model"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		StorePath: "moneta.db",
		OwnerID:   "default",
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Sync: SyncConfig{
			IntervalSeconds: 30,
			MaxAttempts:     5,
		},
	}
}

// Load reads path into a Config on top of the defaults. A missing file
// is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config.Load %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive, got %d", c.Sync.IntervalSeconds)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}
	return nil
}

// RemoteConfigured reports whether a remote store is set up. Without
// one the engine runs local-only and every mutation stays queued.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.ProjectID != "" && c.Remote.Dataset != ""
}
