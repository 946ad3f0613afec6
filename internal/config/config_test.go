package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Backend.JournalMode != JournalWAL {
		t.Errorf("default journal mode = %s, want wal", cfg.Backend.JournalMode)
	}
	if cfg.Backend.Retry.Policy != RetryExponential {
		t.Errorf("default retry policy = %s, want exponential", cfg.Backend.Retry.Policy)
	}
	if cfg.Writer.FlushThreshold != 500 {
		t.Errorf("default flush threshold = %d, want 500", cfg.Writer.FlushThreshold)
	}
}

func TestResolveDefaultsBackupPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/lab"
	cfg.Resolve()

	want := filepath.Join("/data/lab", "backups")
	if cfg.Backup.Storage.Path != want {
		t.Errorf("backup path = %s, want %s", cfg.Backup.Storage.Path, want)
	}
}

func TestDatabasePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/lab"

	if got := cfg.DatabasePath(); got != filepath.Join("/data/lab", "experiments.db") {
		t.Errorf("DatabasePath() = %s", got)
	}
	if got := cfg.JournalPath(); got != cfg.DatabasePath()+"-wal" {
		t.Errorf("JournalPath() = %s", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad journal mode", func(c *Config) { c.Backend.JournalMode = "memory" }},
		{"bad retry policy", func(c *Config) { c.Backend.Retry.Policy = "jittered" }},
		{"zero retry attempts", func(c *Config) { c.Backend.Retry.MaxAttempts = 0 }},
		{"zero read pool", func(c *Config) { c.Backend.ReadPoolSize = 0 }},
		{"negative flush threshold", func(c *Config) { c.Writer.FlushThreshold = -1 }},
		{"zero batch size", func(c *Config) { c.Reader.BatchSize = 0 }},
		{"bad storage type", func(c *Config) { c.Backup.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Backup.Storage.Type = "s3" }},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Resolve()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestZeroFlushThresholdIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	cfg.Writer.FlushThreshold = 0 // manual flushing only
	if err := cfg.Validate(); err != nil {
		t.Errorf("flush_threshold 0 should be valid: %v", err)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /data/lab
backend:
  journal_mode: delete
  busy_timeout: 2s
writer:
  flush_threshold: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/data/lab" {
		t.Errorf("data dir = %s", cfg.DataDir)
	}
	if cfg.Backend.JournalMode != JournalDelete {
		t.Errorf("journal mode = %s, want delete", cfg.Backend.JournalMode)
	}
	if cfg.Backend.BusyTimeout != 2*time.Second {
		t.Errorf("busy timeout = %v, want 2s", cfg.Backend.BusyTimeout)
	}
	if cfg.Writer.FlushThreshold != 50 {
		t.Errorf("flush threshold = %d, want 50", cfg.Writer.FlushThreshold)
	}
	// Untouched fields keep defaults
	if cfg.Reader.BatchSize != 1000 {
		t.Errorf("batch size = %d, want default 1000", cfg.Reader.BatchSize)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"data_dir": "/data/json", "reader": {"batch_size": 250}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/data/json" {
		t.Errorf("data dir = %s", cfg.DataDir)
	}
	if cfg.Reader.BatchSize != 250 {
		t.Errorf("batch size = %d, want 250", cfg.Reader.BatchSize)
	}
}

func TestLoadFromFileRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("data_dir = \"/x\""), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SWEEPDB_DATA_DIR", "/env/data")
	t.Setenv("SWEEPDB_JOURNAL_MODE", "truncate")
	t.Setenv("SWEEPDB_FLUSH_THRESHOLD", "25")
	t.Setenv("SWEEPDB_BACKUP_STORAGE_TYPE", "s3")
	t.Setenv("SWEEPDB_S3_BUCKET", "lab-archive")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.DataDir != "/env/data" {
		t.Errorf("data dir = %s", cfg.DataDir)
	}
	if cfg.Backend.JournalMode != JournalTruncate {
		t.Errorf("journal mode = %s", cfg.Backend.JournalMode)
	}
	if cfg.Writer.FlushThreshold != 25 {
		t.Errorf("flush threshold = %d", cfg.Writer.FlushThreshold)
	}
	if cfg.Backup.Storage.Type != "s3" || cfg.Backup.Storage.S3.Bucket != "lab-archive" {
		t.Errorf("backup storage = %+v", cfg.Backup.Storage)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.DataDir, cfg.Backup.Storage.Path} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", d)
		}
	}
}
