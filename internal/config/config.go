// Package config loads the archiver's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/muaviaUsmani/rrdb/internal/logger"
)

// Config holds all configuration for the archiver
type Config struct {
	// RedisURL is the connection URL for the document store
	RedisURL string
	// KeyPrefix namespaces every key the archiver reads or writes
	KeyPrefix string
	// ArchiveCron is the 5-field cron expression that fires the archival job
	ArchiveCron string
	// ArchiveTimezone is the IANA zone ArchiveCron is evaluated in
	ArchiveTimezone string
	// ArchiveTimeout is the execution budget of one archival run
	ArchiveTimeout time.Duration
	// ArchiveConcurrency bounds the number of archive updates in flight
	ArchiveConcurrency int
	// ArchiveMaxOccurrences bounds the walk through a recurring series
	ArchiveMaxOccurrences int
	// SchedulerTickInterval is how often the daemon checks for due triggers
	SchedulerTickInterval time.Duration
	// SchedulerLockTTL is how long a trigger lock is held; must exceed ArchiveTimeout
	SchedulerLockTTL time.Duration
	// RunHistoryTTLSuccess is how long the record of a successful run is kept
	RunHistoryTTLSuccess time.Duration
	// RunHistoryTTLFailure is how long the record of a failed run is kept
	RunHistoryTTLFailure time.Duration
	// RunHistorySize is the number of runs listed by the status server
	RunHistorySize int
	// StatusPort is the port of the status server. Empty disables it.
	StatusPort string
	// Logging configuration
	Logging *logger.Config
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		KeyPrefix:             getEnv("RRDB_KEY_PREFIX", "rrdb:"),
		ArchiveCron:           getEnv("ARCHIVE_CRON", "3 7 * * *"),
		ArchiveTimezone:       getEnv("ARCHIVE_TIMEZONE", "UTC"),
		ArchiveTimeout:        getEnvAsDuration("ARCHIVE_TIMEOUT", 300*time.Second),
		ArchiveConcurrency:    getEnvAsInt("ARCHIVE_CONCURRENCY", 16),
		ArchiveMaxOccurrences: getEnvAsInt("ARCHIVE_MAX_OCCURRENCES", 100000),
		SchedulerTickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
		SchedulerLockTTL:      getEnvAsDuration("SCHEDULER_LOCK_TTL", 360*time.Second),
		RunHistoryTTLSuccess:  getEnvAsDuration("RUN_HISTORY_TTL_SUCCESS", 7*24*time.Hour),
		RunHistoryTTLFailure:  getEnvAsDuration("RUN_HISTORY_TTL_FAILURE", 30*24*time.Hour),
		RunHistorySize:        getEnvAsInt("RUN_HISTORY_SIZE", 50),
		StatusPort:            getEnvAllowEmpty("STATUS_PORT", "6063"),
		Logging:               loadLoggingConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field constraints
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL cannot be empty")
	}
	if c.ArchiveCron == "" {
		return fmt.Errorf("ARCHIVE_CRON cannot be empty")
	}
	if _, err := time.LoadLocation(c.ArchiveTimezone); err != nil {
		return fmt.Errorf("invalid ARCHIVE_TIMEZONE %q: %w", c.ArchiveTimezone, err)
	}
	if c.ArchiveTimeout <= 0 {
		return fmt.Errorf("ARCHIVE_TIMEOUT must be positive")
	}
	if c.ArchiveConcurrency < 1 {
		return fmt.Errorf("ARCHIVE_CONCURRENCY must be at least 1")
	}
	if c.ArchiveMaxOccurrences < 1 {
		return fmt.Errorf("ARCHIVE_MAX_OCCURRENCES must be at least 1")
	}
	if c.SchedulerTickInterval <= 0 {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be positive")
	}
	if c.SchedulerLockTTL <= c.ArchiveTimeout {
		return fmt.Errorf("SCHEDULER_LOCK_TTL (%s) must exceed ARCHIVE_TIMEOUT (%s)", c.SchedulerLockTTL, c.ArchiveTimeout)
	}
	if c.RunHistoryTTLSuccess < 0 || c.RunHistoryTTLFailure < 0 {
		return fmt.Errorf("RUN_HISTORY_TTL_SUCCESS and RUN_HISTORY_TTL_FAILURE cannot be negative")
	}
	if c.RunHistorySize < 1 {
		return fmt.Errorf("RUN_HISTORY_SIZE must be at least 1")
	}
	if c.StatusPort != "" {
		if port, err := strconv.Atoi(c.StatusPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid STATUS_PORT %q", c.StatusPort)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}

// StatusAddr returns the listen address of the status server, or "" when disabled
func (c *Config) StatusAddr() string {
	if c.StatusPort == "" {
		return ""
	}
	return ":" + c.StatusPort
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty is getEnv, except that a variable set to "" is returned as ""
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(strings.ToLower(level))
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(strings.ToLower(format))
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", cfg.Console.Enabled)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", cfg.Console.Color)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", cfg.Console.BufferSize)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", cfg.Console.FlushInterval)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", cfg.File.Enabled)
	cfg.File.Path = getEnv("LOG_FILE_PATH", cfg.File.Path)
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", cfg.File.MaxSizeMB)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", cfg.File.MaxBackups)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", cfg.File.MaxAgeDays)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", cfg.File.Compress)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", cfg.File.BufferSize)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", cfg.File.BatchSize)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", cfg.File.BatchInterval)

	return cfg
}
