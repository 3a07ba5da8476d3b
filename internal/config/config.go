// Package config provides configuration loading and management for courier.
// It supports loading configuration from YAML files with defaults applied
// for any unset values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all backends.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// Config represents the complete application configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Retry     RetryConfig     `yaml:"retry"`
	Retention RetentionConfig `yaml:"retention"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Logger    LoggerConfig    `yaml:"logger"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory backends should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// RetryConfig holds the retry scheduler settings.
type RetryConfig struct {
	// BurstRetries is how many early attempts are re-armed immediately.
	BurstRetries int `yaml:"burst_retries"`

	// Interval is the fixed cadence between retries after the burst.
	Interval time.Duration `yaml:"interval"`

	// Lookback is the elapsed time after a message's creation at which
	// the fixed cadence begins.
	Lookback time.Duration `yaml:"lookback"`

	// MaxRetries is the ceiling; a message failing this many times is
	// terminal.
	MaxRetries int `yaml:"max_retries"`

	// PollInterval is how often each instance scans the ledger for due
	// messages.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BatchSize bounds how many due messages a single pass claims.
	BatchSize int `yaml:"batch_size"`

	// UseStorageLock enables distributed-lock coordination of retry
	// attempts across instances.
	UseStorageLock bool `yaml:"use_storage_lock"`

	// LockTTL is the hard expiry of a retry lease, bounding staleness if
	// an instance dies while holding it.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// RetentionConfig holds how long resolved messages stay in the ledger.
type RetentionConfig struct {
	Succeeded time.Duration `yaml:"succeeded"`
	Failed    time.Duration `yaml:"failed"`
}

// CleanupConfig holds the cleanup collector settings.
type CleanupConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for any unset values
	ApplyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// memory-mode runs and tests without a config file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func ApplyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "courier-messages"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "courier"
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// Retry defaults
	if cfg.Retry.BurstRetries == 0 {
		cfg.Retry.BurstRetries = 3
	}
	if cfg.Retry.Interval == 0 {
		cfg.Retry.Interval = time.Minute
	}
	if cfg.Retry.Lookback == 0 {
		cfg.Retry.Lookback = 4 * time.Minute
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 50
	}
	if cfg.Retry.PollInterval == 0 {
		cfg.Retry.PollInterval = time.Minute
	}
	if cfg.Retry.BatchSize == 0 {
		cfg.Retry.BatchSize = 200
	}
	if cfg.Retry.LockTTL == 0 {
		cfg.Retry.LockTTL = lockTTLFor(cfg.Retry.PollInterval)
	}

	// Retention defaults
	if cfg.Retention.Succeeded == 0 {
		cfg.Retention.Succeeded = 24 * time.Hour
	}
	if cfg.Retention.Failed == 0 {
		cfg.Retention.Failed = 15 * 24 * time.Hour
	}

	// Cleanup defaults
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = 5 * time.Minute
	}
	if cfg.Cleanup.BatchSize == 0 {
		cfg.Cleanup.BatchSize = 1000
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// lockTTLFor derives a conservative lease expiry from the poll cadence so
// a crashed holder cannot block a message past one extra round.
func lockTTLFor(pollInterval time.Duration) time.Duration {
	ttl := 2 * pollInterval
	if ttl < 10*time.Second {
		ttl = 10 * time.Second
	}
	return ttl
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
