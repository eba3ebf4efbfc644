// Package config defines the application configuration of statickg: logging, the cache
// database, metrics output and HTTP behaviour towards the store. The pipeline itself is
// configured separately (see package pipeline).
package config

import (
	dbconfig "github.com/tigerroll/statickg/pkg/etl/adapter/database/config"
)

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// CacheTypeMemory selects the in-memory cache store, which forgets everything between runs.
const CacheTypeMemory = "memory"

// Config is the root configuration structure.
type Config struct {
	Statickg StatickgConfig `yaml:"statickg"`
}

// StatickgConfig groups every application setting.
type StatickgConfig struct {
	System  SystemConfig  `yaml:"system"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// SystemConfig holds process level settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// RetentionDays is how long run logs are kept under <workdir>/logs.
	RetentionDays int `yaml:"retention_days"`
	// SQLLevel is the gorm log level ("SILENT", "ERROR", "WARN", "INFO").
	SQLLevel string `yaml:"sql_level"`
}

// CacheConfig selects the persistent cache store.
type CacheConfig struct {
	// Database is the cache database. An empty sqlite path means <workdir>/etl.db.
	// Type "memory" selects a non persistent store.
	Database dbconfig.DatabaseConfig `yaml:"database"`
}

// MetricsConfig controls the prometheus text file written at the end of a run.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Textfile is the output path. Empty means <workdir>/logs/metrics.prom.
	Textfile string `yaml:"textfile"`
}

// HTTPConfig controls requests sent to the store endpoints.
type HTTPConfig struct {
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig is a bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialIntervalMs int     `yaml:"initial_interval_ms"`
	MaxIntervalMs     int     `yaml:"max_interval_ms"`
	Factor            float64 `yaml:"factor"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Statickg: StatickgConfig{
			System: SystemConfig{
				Logging: LoggingConfig{
					Level:         string(LogLevelInfo),
					RetentionDays: 30,
					SQLLevel:      string(LogLevelSilent),
				},
			},
			Cache: CacheConfig{
				Database: dbconfig.DatabaseConfig{
					Type: "sqlite",
					Pool: dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
				},
			},
			Metrics: MetricsConfig{Enabled: true},
			HTTP: HTTPConfig{
				TimeoutSeconds: 60,
				Retry: RetryConfig{
					MaxAttempts:       3,
					InitialIntervalMs: 500,
					MaxIntervalMs:     5000,
					Factor:            2,
				},
			},
		},
	}
}
