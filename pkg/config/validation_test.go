package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "default config",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "invalid policy",
			mutate:  func(cfg *Config) { cfg.Sharding.Policy = "rendezvous" },
			wantErr: "Policy",
		},
		{
			name:    "no shards",
			mutate:  func(cfg *Config) { cfg.Sharding.Shards = nil },
			wantErr: "Shards",
		},
		{
			name: "shard without dsn",
			mutate: func(cfg *Config) {
				cfg.Sharding.Shards = []ShardConfig{{Name: "a"}}
			},
			wantErr: "DSN",
		},
		{
			name: "duplicate shard name",
			mutate: func(cfg *Config) {
				cfg.Sharding.Shards = []ShardConfig{{Name: "a", DSN: "memory://a"}, {Name: "a", DSN: "memory://b"}}
			},
			wantErr: "duplicate shard name",
		},
		{
			name: "duplicate dsn",
			mutate: func(cfg *Config) {
				cfg.Sharding.Shards = []ShardConfig{{Name: "a", DSN: "memory://a"}, {Name: "b", DSN: "memory://a"}}
			},
			wantErr: "duplicate dsn",
		},
		{
			name: "unparseable dsn",
			mutate: func(cfg *Config) {
				cfg.Sharding.Shards = []ShardConfig{{Name: "a", DSN: "postgres://db/a"}}
			},
			wantErr: "unknown backend",
		},
		{
			name:    "negative virtual nodes",
			mutate:  func(cfg *Config) { cfg.Sharding.VirtualNodes = -1 },
			wantErr: "VirtualNodes",
		},
		{
			name:    "invalid algorithm",
			mutate:  func(cfg *Config) { cfg.Federation.Algorithm = "md5" },
			wantErr: "Algorithm",
		},
		{
			name: "health timeout above interval",
			mutate: func(cfg *Config) {
				cfg.Health.Interval = time.Second
				cfg.Health.Timeout = 2 * time.Second
			},
			wantErr: "must not exceed interval",
		},
		{
			name:    "burst without rate",
			mutate:  func(cfg *Config) { cfg.Federation.RateLimit.Burst = 10 },
			wantErr: "burst is set",
		},
		{
			name: "badger state without path",
			mutate: func(cfg *Config) {
				cfg.State.Type = "badger"
				cfg.State.Badger = map[string]any{}
			},
			wantErr: "db_path is required",
		},
		{
			name: "api and metrics on one port",
			mutate: func(cfg *Config) {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Port = cfg.API.Port
			},
			wantErr: "cannot share port",
		},
		{
			name: "admin and api on one port",
			mutate: func(cfg *Config) {
				cfg.Admin.Port = cfg.API.Port
			},
			wantErr: "api and admin cannot share port",
		},
		{
			name: "admin and metrics on one port",
			mutate: func(cfg *Config) {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Port = cfg.Admin.Port
			},
			wantErr: "admin and metrics cannot share port",
		},
		{
			name: "disabled admin may reuse a port",
			mutate: func(cfg *Config) {
				cfg.Admin.Enabled = false
				cfg.Admin.Port = cfg.API.Port
			},
		},
		{
			name:    "admin on all interfaces without token",
			mutate:  func(cfg *Config) { cfg.Admin.Address = "0.0.0.0" },
			wantErr: "token is required",
		},
		{
			name:    "admin on empty address without token",
			mutate:  func(cfg *Config) { cfg.Admin.Address = "" },
			wantErr: "token is required",
		},
		{
			name: "admin on all interfaces with token",
			mutate: func(cfg *Config) {
				cfg.Admin.Address = "0.0.0.0"
				cfg.Admin.Token = "s3cret"
			},
		},
		{
			name:   "admin on ipv6 loopback",
			mutate: func(cfg *Config) { cfg.Admin.Address = "::1" },
		},
		{
			name:   "admin on localhost",
			mutate: func(cfg *Config) { cfg.Admin.Address = "localhost" },
		},
		{
			name:    "port out of range",
			mutate:  func(cfg *Config) { cfg.API.Port = 70000 },
			wantErr: "Port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
