// Package config loads process configuration from the environment,
// the way rclone itself is driven primarily by flags and environment
// variables rather than a mandatory config file for non-interactive
// (serve) use. Values are read once at startup into an immutable
// Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every ambient and domain setting named in SPEC_FULL.md.
type Config struct {
	Port     int
	DataDir  string
	LogLevel string

	TaskDatabasePath   string
	TaskWorkerPoolSize int

	EncryptionSecret string

	DirectoryCacheSize       int
	DirectoryCacheTTLSeconds int
}

// Defaults mirror SPEC_FULL.md's named defaults.
const (
	DefaultPort                     = 8080
	DefaultDataDir                  = "./data"
	DefaultLogLevel                 = "info"
	DefaultTaskDatabasePath         = "./data/tasks.db"
	DefaultTaskWorkerPoolSize       = 2
	DefaultDirectoryCacheSize       = 300
	DefaultDirectoryCacheTTLSeconds = 300
)

// Load reads every supported environment variable, applying the
// documented default for anything unset, and validates value ranges.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     DefaultPort,
		DataDir:                  DefaultDataDir,
		LogLevel:                 DefaultLogLevel,
		TaskDatabasePath:         DefaultTaskDatabasePath,
		TaskWorkerPoolSize:       DefaultTaskWorkerPoolSize,
		DirectoryCacheSize:       DefaultDirectoryCacheSize,
		DirectoryCacheTTLSeconds: DefaultDirectoryCacheTTLSeconds,
	}

	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: PORT: %w", err)
		}
		cfg.Port = n
	}
	if v, ok := os.LookupEnv("DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("TASK_DATABASE_PATH"); ok && v != "" {
		cfg.TaskDatabasePath = v
	}
	if v, ok := os.LookupEnv("TASK_WORKER_POOL_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: TASK_WORKER_POOL_SIZE: %w", err)
		}
		if n < 1 || n > 10 {
			return nil, fmt.Errorf("config: TASK_WORKER_POOL_SIZE must be 1-10, got %d", n)
		}
		cfg.TaskWorkerPoolSize = n
	}
	if v, ok := os.LookupEnv("ENCRYPTION_SECRET"); ok {
		cfg.EncryptionSecret = v
	}
	if v, ok := os.LookupEnv("DIRECTORY_CACHE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: DIRECTORY_CACHE_SIZE: %w", err)
		}
		cfg.DirectoryCacheSize = n
	}
	if v, ok := os.LookupEnv("DIRECTORY_CACHE_TTL_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: DIRECTORY_CACHE_TTL_SECONDS: %w", err)
		}
		cfg.DirectoryCacheTTLSeconds = n
	}

	if cfg.EncryptionSecret == "" {
		return nil, fmt.Errorf("config: ENCRYPTION_SECRET is required")
	}

	return cfg, nil
}

// CacheTTL is DirectoryCacheTTLSeconds as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.DirectoryCacheTTLSeconds) * time.Second
}
