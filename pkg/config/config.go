package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoShard configuration.
//
// This structure captures all configurable aspects of the service:
//   - Logging configuration
//   - Server-wide settings
//   - The shard map (mapping policy and one DSN per shard)
//   - Shard health checks
//   - Federation trust and signature settings
//   - Persisted state (topology and trust records)
//   - Admin/federation HTTP API and metrics endpoints
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOSHARD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// The configured shard list seeds the first topology generation. Once a
// topology has been persisted in the state store, the persisted topology wins
// and the shard list is only used to validate the file.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Sharding defines the mapping policy and the initial shard map
	Sharding ShardingConfig `mapstructure:"sharding"`

	// Health configures shard backend probing
	Health HealthConfig `mapstructure:"health"`

	// Federation configures trusted servers and signed requests
	Federation FederationConfig `mapstructure:"federation"`

	// State selects where topology and trust records are persisted
	State StateConfig `mapstructure:"state"`

	// API configures the federation HTTP listener
	API APIConfig `mapstructure:"api"`

	// Admin configures the admin HTTP listener
	Admin AdminConfig `mapstructure:"admin"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// ShardingConfig defines the key-to-shard mapping.
type ShardingConfig struct {
	// Policy is the mapping policy
	// Valid values: modulo, consistent-hash, jump
	Policy string `mapstructure:"policy" validate:"required,oneof=modulo consistent-hash jump"`

	// VirtualNodes is the number of ring points per shard (consistent-hash only)
	VirtualNodes int `mapstructure:"virtual_nodes" validate:"gte=0"`

	// Shards lists the shards of the first generation; index = position
	Shards []ShardConfig `mapstructure:"shards" validate:"required,min=1,dive"`
}

// ShardConfig describes one shard backend.
type ShardConfig struct {
	// Name is a human-readable backend name used in logs and metrics
	Name string `mapstructure:"name" validate:"required"`

	// DSN is the backend connection descriptor:
	//   memory://<name>
	//   badger://<path>
	//   s3://[key:secret@]<bucket>/<prefix>?region=&endpoint=&force_path_style=
	DSN string `mapstructure:"dsn" validate:"required"`
}

// HealthConfig configures shard health checks.
type HealthConfig struct {
	// Interval is how often every backend is probed
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`

	// Timeout bounds a single probe
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// FederationConfig configures the federation trust store and verifier.
type FederationConfig struct {
	// GracePeriod is how long REVOKED trust records are kept before purge
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"gt=0"`

	// PurgeInterval is how often expired records are purged
	PurgeInterval time.Duration `mapstructure:"purge_interval" validate:"gt=0"`

	// Algorithm is the HMAC hash used for signatures
	// Valid values: sha256, sha512
	Algorithm string `mapstructure:"algorithm" validate:"required,oneof=sha256 sha512"`

	// PurgeEnabled controls the periodic purge of expired REVOKED records
	// (default: true). The admin purge endpoint works either way.
	PurgeEnabled *bool `mapstructure:"purge_enabled"`

	// RateLimit bounds signed requests per signer
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-signer rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per signer (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the bucket capacity per signer (0 = requests_per_second)
	Burst uint `mapstructure:"burst"`
}

// StateConfig specifies the state store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StateConfig struct {
	// Type specifies which state store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// APIConfig configures the federation HTTP listener. It serves only signed
// /federation/v1 requests and /health; admin routes live on AdminConfig.
type APIConfig struct {
	// Enabled controls whether the federation listener is started
	Enabled bool `mapstructure:"enabled"`

	// Address is the interface to bind (empty = all interfaces)
	Address string `mapstructure:"address"`

	// Port is the TCP port to listen on
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// ReadTimeout bounds reading a request, body included
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds writing a response
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`

	// IdleTimeout bounds keep-alive connections between requests
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

// AdminConfig configures the admin HTTP listener (resharding and trust
// management). It binds to loopback unless told otherwise.
type AdminConfig struct {
	// Enabled controls whether the admin listener is started
	Enabled bool `mapstructure:"enabled"`

	// Address is the interface to bind (default: 127.0.0.1)
	Address string `mapstructure:"address"`

	// Port is the TCP port to listen on
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// Token, when set, must be presented as "Authorization: Bearer <token>".
	// Required when Address is not a loopback address.
	Token string `mapstructure:"token"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port of the /metrics endpoint
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSHARD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSHARD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSHARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets are often supplied only through the environment, so bind them
	// even when the file does not mention the key.
	_ = v.BindEnv("admin.token")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoshard/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// Explicit path that does not exist
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoshard")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoshard")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
