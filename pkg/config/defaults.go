package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/dittoshard/pkg/federation/signature"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/shard"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyShardingDefaults(&cfg.Sharding)
	applyHealthDefaults(&cfg.Health)
	applyFederationDefaults(&cfg.Federation)
	applyStateDefaults(&cfg.State)
	applyAPIDefaults(&cfg.API)
	applyAdminDefaults(&cfg.Admin)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyShardingDefaults fills in the policy and, when no shard is configured,
// a single in-memory shard so a fresh install starts without a config file.
func applyShardingDefaults(cfg *ShardingConfig) {
	if cfg.Policy == "" {
		cfg.Policy = shard.PolicyModulo
	}
	cfg.Policy = strings.ToLower(cfg.Policy)

	if cfg.VirtualNodes == 0 {
		cfg.VirtualNodes = shard.DefaultVirtualNodes
	}

	if len(cfg.Shards) == 0 {
		cfg.Shards = []ShardConfig{{Name: "shard-0", DSN: "memory://shard-0"}}
	}
	for i := range cfg.Shards {
		if cfg.Shards[i].Name == "" {
			cfg.Shards[i].Name = defaultShardName(i)
		}
	}
}

func defaultShardName(index int) string {
	return fmt.Sprintf("shard-%d", index)
}

func applyHealthDefaults(cfg *HealthConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
}

func applyFederationDefaults(cfg *FederationConfig) {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = trust.DefaultGracePeriod
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = time.Hour
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = string(signature.SHA256)
	}
	cfg.Algorithm = strings.ToLower(cfg.Algorithm)

	if cfg.PurgeEnabled == nil {
		enabled := true
		cfg.PurgeEnabled = &enabled
	}

	// RequestsPerSecond defaults to 0 (unlimited)
	// Burst defaults to 0 (same as RequestsPerSecond)
}

// applyStateDefaults sets state store defaults.
func applyStateDefaults(cfg *StateConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Applied for all types so generated config files document the option
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittoshard-state"
	}
}

// applyAPIDefaults enables the federation listener when it looks unconfigured
// (port 0). Users can set enabled: false together with a port to disable it.
func applyAPIDefaults(cfg *APIConfig) {
	if !cfg.Enabled && cfg.Port == 0 {
		cfg.Enabled = true
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
}

// applyAdminDefaults enables the admin listener on loopback when it looks
// unconfigured (port 0), like applyAPIDefaults.
func applyAdminDefaults(cfg *AdminConfig) {
	if !cfg.Enabled && cfg.Port == 0 {
		cfg.Enabled = true
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		API:   APIConfig{Enabled: true},
		Admin: AdminConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
