package config

import (
	"time"
)

// Config represents the complete application configuration.
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user overrides (~/.config/riskledger/config.yaml)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Attack  AttackConfig  `mapstructure:"attack"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Migrate MigrateConfig `mapstructure:"migrate"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`

	// Environment selects environment-dependent defaults such as the fetch timeout.
	// Valid values: development, production
	Environment string `mapstructure:"environment"`

	RateLimits      map[string]int `mapstructure:"rate_limits"`
	RateLimitMargin float64        `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// CacheConfig contains lookup cache TTL configuration.
type CacheConfig struct {
	AttackTTL time.Duration `mapstructure:"attack_ttl"`
}

// FetchConfig bounds outbound calls to third-party APIs.
type FetchConfig struct {
	// Timeout is the hard per-request timeout. Zero selects the environment default.
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// AttackConfig locates the MITRE ATT&CK TAXII server.
type AttackConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig enables shared fetch decision counters. Empty URL disables Redis.
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// MigrateConfig contains document migration defaults.
type MigrateConfig struct {
	BatchSize          int     `mapstructure:"batch_size"`
	MaxWritesPerSecond float64 `mapstructure:"max_writes_per_second"`
	SampleSize         int     `mapstructure:"sample_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

const (
	developmentFetchTimeout = 10 * time.Second
	productionFetchTimeout  = 30 * time.Second
)

// FetchTimeout resolves the effective outbound timeout.
func (c *Config) FetchTimeout() time.Duration {
	if c == nil {
		return developmentFetchTimeout
	}
	if c.Fetch.Timeout > 0 {
		return c.Fetch.Timeout
	}
	if c.Environment == "production" {
		return productionFetchTimeout
	}
	return developmentFetchTimeout
}
