// Package config provides unified configuration for the sweepdb datastore.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// JournalMode is the SQLite journaling mode, fixed at database-open time.
type JournalMode string

const (
	// JournalWAL enables write-ahead logging so readers never block the
	// writer's commit and vice versa. This is the default and the only
	// mode under which live readers are supported.
	JournalWAL JournalMode = "wal"

	// JournalDelete is the classic rollback journal.
	JournalDelete JournalMode = "delete"

	// JournalTruncate is the truncating rollback journal.
	JournalTruncate JournalMode = "truncate"
)

// RetryPolicy names the backoff policy applied to contention failures.
type RetryPolicy string

const (
	// RetryNone surfaces contention errors without retrying.
	RetryNone RetryPolicy = "none"

	// RetryFixed retries with a constant delay between attempts.
	RetryFixed RetryPolicy = "fixed"

	// RetryExponential retries with exponentially growing delays.
	RetryExponential RetryPolicy = "exponential"
)

// Config holds the unified configuration for a sweepdb database.
type Config struct {
	// DataDir is the base directory for the database and its journal
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Backend configuration
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// Writer configuration
	Writer WriterConfig `json:"writer" yaml:"writer"`

	// Reader configuration
	Reader ReaderConfig `json:"reader" yaml:"reader"`

	// Backup configuration
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// BackendConfig holds storage backend configuration.
type BackendConfig struct {
	// JournalMode is the SQLite journal mode: wal, delete, truncate
	JournalMode JournalMode `json:"journal_mode" yaml:"journal_mode"`

	// BusyTimeout is how long a blocked transaction waits before
	// failing with a contention error
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// ReadPoolSize is the maximum number of concurrent read connections
	ReadPoolSize int `json:"read_pool_size" yaml:"read_pool_size"`

	// Retry configures backoff for contention failures
	Retry RetryConfig `json:"retry" yaml:"retry"`
}

// RetryConfig holds the contention backoff policy.
type RetryConfig struct {
	// Policy is the backoff policy: none, fixed, exponential
	Policy RetryPolicy `json:"policy" yaml:"policy"`

	// BaseDelay is the first retry delay (doubles per attempt under exponential)
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// WriterConfig holds insertion buffer configuration.
type WriterConfig struct {
	// FlushThreshold is the buffered row count that triggers an
	// automatic flush; 0 disables automatic flushing (explicit
	// Flush/Finalize only)
	FlushThreshold int `json:"flush_threshold" yaml:"flush_threshold"`
}

// ReaderConfig holds live reader configuration.
type ReaderConfig struct {
	// BatchSize is the maximum rows returned per ReadNew call
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// BackupConfig holds backup target configuration.
type BackupConfig struct {
	// Storage is the backup object storage target
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/sweepdb",
		Backend: BackendConfig{
			JournalMode:  JournalWAL,
			BusyTimeout:  5 * time.Second,
			ReadPoolSize: 4,
			Retry: RetryConfig{
				Policy:      RetryExponential,
				BaseDelay:   10 * time.Millisecond,
				MaxAttempts: 5,
			},
		},
		Writer: WriterConfig{
			FlushThreshold: 500,
		},
		Reader: ReaderConfig{
			BatchSize: 1000,
		},
		Backup: BackupConfig{
			Storage: StorageConfig{
				Type: "local",
				Path: "",
			},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/sweepdb"
	}
	if c.Backup.Storage.Path == "" {
		c.Backup.Storage.Path = filepath.Join(c.DataDir, "backups")
	}
}

// DatabasePath returns the path to the experiment database file.
// The WAL journal lives alongside it with a "-wal" suffix.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "experiments.db")
}

// JournalPath returns the path to the WAL journal file.
func (c *Config) JournalPath() string {
	return c.DatabasePath() + "-wal"
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Backend.JournalMode {
	case JournalWAL, JournalDelete, JournalTruncate:
		// Recognized modes
	default:
		return fmt.Errorf("invalid journal mode: %s (must be wal, delete, or truncate)", c.Backend.JournalMode)
	}

	switch c.Backend.Retry.Policy {
	case RetryNone, RetryFixed, RetryExponential:
		// Recognized policies
	default:
		return fmt.Errorf("invalid retry policy: %s (must be none, fixed, or exponential)", c.Backend.Retry.Policy)
	}

	if c.Backend.Retry.Policy != RetryNone && c.Backend.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Backend.Retry.MaxAttempts)
	}

	if c.Backend.ReadPoolSize < 1 {
		return fmt.Errorf("backend.read_pool_size must be at least 1, got %d", c.Backend.ReadPoolSize)
	}

	if c.Writer.FlushThreshold < 0 {
		return fmt.Errorf("writer.flush_threshold must not be negative, got %d", c.Writer.FlushThreshold)
	}

	if c.Reader.BatchSize < 1 {
		return fmt.Errorf("reader.batch_size must be at least 1, got %d", c.Reader.BatchSize)
	}

	if c.Backup.Storage.Type != "local" && c.Backup.Storage.Type != "s3" {
		return fmt.Errorf("invalid backup storage type: %s (must be local or s3)", c.Backup.Storage.Type)
	}

	if c.Backup.Storage.Type == "s3" && c.Backup.Storage.S3.Bucket == "" {
		return fmt.Errorf("backup.storage.s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SWEEPDB_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SWEEPDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Backend configuration
	if v := os.Getenv("SWEEPDB_JOURNAL_MODE"); v != "" {
		cfg.Backend.JournalMode = JournalMode(v)
	}
	if v := os.Getenv("SWEEPDB_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.BusyTimeout = d
		}
	}
	if v := os.Getenv("SWEEPDB_READ_POOL_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Backend.ReadPoolSize)
	}
	if v := os.Getenv("SWEEPDB_RETRY_POLICY"); v != "" {
		cfg.Backend.Retry.Policy = RetryPolicy(v)
	}

	// Writer configuration
	if v := os.Getenv("SWEEPDB_FLUSH_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Writer.FlushThreshold)
	}

	// Reader configuration
	if v := os.Getenv("SWEEPDB_READER_BATCH_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Reader.BatchSize)
	}

	// Backup configuration
	if v := os.Getenv("SWEEPDB_BACKUP_STORAGE_TYPE"); v != "" {
		cfg.Backup.Storage.Type = v
	}
	if v := os.Getenv("SWEEPDB_BACKUP_STORAGE_PATH"); v != "" {
		cfg.Backup.Storage.Path = v
	}
	if v := os.Getenv("SWEEPDB_S3_BUCKET"); v != "" {
		cfg.Backup.Storage.S3.Bucket = v
	}
	if v := os.Getenv("SWEEPDB_S3_REGION"); v != "" {
		cfg.Backup.Storage.S3.Region = v
	}
	if v := os.Getenv("SWEEPDB_S3_ENDPOINT"); v != "" {
		cfg.Backup.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
	}
	if c.Backup.Storage.Type == "local" {
		dirs = append(dirs, c.Backup.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
