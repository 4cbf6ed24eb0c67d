package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if path != GetDefaultConfigPath() {
		t.Errorf("Expected path %q, got %q", GetDefaultConfigPath(), path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected permissions 0600, got %v", info.Mode().Perm())
	}
	if !ConfigExists() {
		t.Error("ConfigExists should report the new file")
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatalf("Failed to overwrite file: %v", err)
	}

	if _, err := InitConfig(true); err != nil {
		t.Fatalf("Forced InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(content), "# DittoShard Configuration File") {
		t.Error("Forced init did not rewrite the file")
	}
}

func TestInitConfigToPath_NestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
	if err := InitConfigToPath(path, false); err == nil {
		t.Fatal("Expected error on second write without force")
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{
		"# DittoShard Configuration File",
		"logging:",
		"sharding:",
		"memory://shard-0",
		"federation:",
		"grace_period: 24h0m0s",
		"db_path: /tmp/dittoshard-state",
		"metrics:",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Generated config missing %q", want)
		}
	}

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config failed to load: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.Sharding.Policy != def.Sharding.Policy {
		t.Errorf("Policy mismatch: %q vs %q", cfg.Sharding.Policy, def.Sharding.Policy)
	}
	if len(cfg.Sharding.Shards) != 1 || cfg.Sharding.Shards[0] != def.Sharding.Shards[0] {
		t.Errorf("Shards mismatch: %+v", cfg.Sharding.Shards)
	}
	if cfg.Federation.GracePeriod != def.Federation.GracePeriod {
		t.Errorf("Grace period mismatch: %v", cfg.Federation.GracePeriod)
	}
	if cfg.API.Port != def.API.Port || cfg.API.IdleTimeout != def.API.IdleTimeout {
		t.Errorf("API mismatch: %+v", cfg.API)
	}
	if cfg.Admin != def.Admin {
		t.Errorf("Admin mismatch: %+v vs %+v", cfg.Admin, def.Admin)
	}
	if *cfg.Federation.PurgeEnabled != *def.Federation.PurgeEnabled {
		t.Errorf("purge_enabled mismatch: %v", *cfg.Federation.PurgeEnabled)
	}
}
