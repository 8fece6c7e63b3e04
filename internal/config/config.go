package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.crewsnap/config.toml.
type Config struct {
	DefaultAgent string    `toml:"default_agent"`
	Remote       Remote    `toml:"remote"`
	Uploader     Uploader  `toml:"uploader"`
	Retention    Retention `toml:"retention"`
	Storage      Storage   `toml:"storage"`
	Watch        Watch     `toml:"watch"`
}

// Remote configures the CRM upload endpoint.
type Remote struct {
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	TenantID string `toml:"tenant_id"`
}

// Uploader configures the background sync worker.
type Uploader struct {
	MaxAttempts      int `toml:"max_attempts"`
	PollIntervalMS   int `toml:"poll_interval_ms"`
	BackoffBaseMS    int `toml:"backoff_base_ms"`
	BackoffMaxMS     int `toml:"backoff_max_ms"`
	StaleTimeoutMS   int `toml:"stale_timeout_ms"`
	UploadTimeoutMS  int `toml:"upload_timeout_ms"`
	MaxUploadsPerRun int `toml:"max_uploads_per_run"`
}

// Retention configures automatic cleanup of completed uploads.
type Retention struct {
	CompletedDays int `toml:"completed_days"`
}

// Storage configures local disk headroom limits.
type Storage struct {
	// MaxUsedPercent blocks new enqueues when disk usage exceeds it.
	// Omitted (or 0) defaults to 95; set -1 to disable the gate.
	MaxUsedPercent float64 `toml:"max_used_percent"`
}

// Watch configures the optional camera drop directory. Files appearing in
// Dir are enqueued against the configured contact/project and removed.
type Watch struct {
	Dir       string `toml:"dir"`
	ContactID string `toml:"contact_id"`
	ProjectID string `toml:"project_id"`
}

// Default returns a config with all tunables at their defaults and
// no remote endpoint configured.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Uploader.MaxAttempts <= 0 {
		c.Uploader.MaxAttempts = 5
	}
	if c.Uploader.PollIntervalMS <= 0 {
		c.Uploader.PollIntervalMS = 2000
	}
	if c.Uploader.BackoffBaseMS <= 0 {
		c.Uploader.BackoffBaseMS = 5000
	}
	if c.Uploader.BackoffMaxMS <= 0 {
		c.Uploader.BackoffMaxMS = 5 * 60 * 1000
	}
	if c.Uploader.StaleTimeoutMS <= 0 {
		c.Uploader.StaleTimeoutMS = 10 * 60 * 1000
	}
	if c.Uploader.UploadTimeoutMS <= 0 {
		c.Uploader.UploadTimeoutMS = 60 * 1000
	}
	if c.Uploader.MaxUploadsPerRun <= 0 {
		c.Uploader.MaxUploadsPerRun = 25
	}
	if c.Retention.CompletedDays <= 0 {
		c.Retention.CompletedDays = 7
	}
	if c.Storage.MaxUsedPercent == 0 {
		c.Storage.MaxUsedPercent = 95
	}
	if c.Storage.MaxUsedPercent < 0 {
		// Explicit opt-out; 0 is indistinguishable from an omitted key in
		// toml, so the sentinel is negative. The queue skips the gate at 0.
		c.Storage.MaxUsedPercent = 0
	}
}

// PollInterval returns the uploader poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Uploader.PollIntervalMS) * time.Millisecond
}

// BackoffBase returns the first retry delay as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Uploader.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling as a duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Uploader.BackoffMaxMS) * time.Millisecond
}

// StaleTimeout returns how long a syncing row may go without progress
// before it is reclaimed as failed.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.Uploader.StaleTimeoutMS) * time.Millisecond
}

// UploadTimeout returns the per-upload request deadline.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Uploader.UploadTimeoutMS) * time.Millisecond
}

// CompletedRetention returns the retention window for completed uploads.
func (c *Config) CompletedRetention() time.Duration {
	return time.Duration(c.Retention.CompletedDays) * 24 * time.Hour
}

// Load reads config from the given path. Returns error if the file is
// missing or malformed; defaults are applied to any omitted tunables.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
