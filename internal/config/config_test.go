package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultAgent = "north-crew"
	cfg.Remote.BaseURL = "https://api.example.com"
	cfg.Remote.TenantID = "t-1"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultAgent != "north-crew" {
		t.Errorf("DefaultAgent = %q, want %q", loaded.DefaultAgent, "north-crew")
	}
	if loaded.Remote.BaseURL != "https://api.example.com" {
		t.Errorf("Remote.BaseURL = %q", loaded.Remote.BaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_agent = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Uploader.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Uploader.MaxAttempts)
	}
	if cfg.Retention.CompletedDays != 7 {
		t.Errorf("CompletedDays = %d, want 7", cfg.Retention.CompletedDays)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval())
	}
	if cfg.CompletedRetention() != 7*24*time.Hour {
		t.Errorf("CompletedRetention = %v, want 168h", cfg.CompletedRetention())
	}
}

func TestStorageGateSentinel(t *testing.T) {
	tmpDir := t.TempDir()

	// Omitted key gets the default threshold.
	path := filepath.Join(tmpDir, "default.toml")
	if err := os.WriteFile(path, []byte("default_agent = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.MaxUsedPercent != 95 {
		t.Errorf("omitted MaxUsedPercent = %v, want 95", cfg.Storage.MaxUsedPercent)
	}

	// -1 disables the gate: normalized to 0, which the queue never checks.
	path = filepath.Join(tmpDir, "disabled.toml")
	if err := os.WriteFile(path, []byte("[storage]\nmax_used_percent = -1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.MaxUsedPercent != 0 {
		t.Errorf("disabled MaxUsedPercent = %v, want 0", cfg.Storage.MaxUsedPercent)
	}

	// An explicit threshold is kept as written.
	path = filepath.Join(tmpDir, "custom.toml")
	if err := os.WriteFile(path, []byte("[storage]\nmax_used_percent = 80\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.MaxUsedPercent != 80 {
		t.Errorf("custom MaxUsedPercent = %v, want 80", cfg.Storage.MaxUsedPercent)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
