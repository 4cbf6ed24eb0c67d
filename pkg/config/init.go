package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration file to the default
// location and returns its path.
//
// Parameters:
//   - force: overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: "already exists" when the file exists and force is false
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration file to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// yamlBlock marshals v with yaml.v3 and indents every line by indent spaces.
func yamlBlock(v any, indent int) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config section: %w", err)
	}

	pad := strings.Repeat(" ", indent)
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// generateYAMLWithComments renders cfg as YAML with a comment on every section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	type shardEntry struct {
		Name string `yaml:"name"`
		DSN  string `yaml:"dsn"`
	}
	shards := make([]shardEntry, len(cfg.Sharding.Shards))
	for i, s := range cfg.Sharding.Shards {
		shards[i] = shardEntry{Name: s.Name, DSN: s.DSN}
	}

	shardsYAML, err := yamlBlock(shards, 4)
	if err != nil {
		return "", err
	}
	badgerYAML, err := yamlBlock(cfg.State.Badger, 4)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("# DittoShard Configuration File\n")
	b.WriteString("#\n")
	b.WriteString("# Every value can be overridden with an environment variable prefixed with\n")
	b.WriteString("# DITTOSHARD_, e.g. DITTOSHARD_LOGGING_LEVEL=DEBUG.\n\n")

	b.WriteString("# Logging\n")
	b.WriteString("logging:\n")
	b.WriteString("  # DEBUG, INFO, WARN or ERROR\n")
	fmt.Fprintf(&b, "  level: %s\n", cfg.Logging.Level)
	b.WriteString("  # text or json\n")
	fmt.Fprintf(&b, "  format: %s\n", cfg.Logging.Format)
	b.WriteString("  # stdout, stderr or a file path\n")
	fmt.Fprintf(&b, "  output: %s\n\n", cfg.Logging.Output)

	b.WriteString("server:\n")
	b.WriteString("  # Maximum time to wait for in-flight work on shutdown\n")
	fmt.Fprintf(&b, "  shutdown_timeout: %s\n\n", cfg.Server.ShutdownTimeout)

	b.WriteString("# Shard map. The list seeds the first generation; after the first start the\n")
	b.WriteString("# topology persisted in the state store is authoritative. Change the shard\n")
	b.WriteString("# count through the admin API (POST /admin/reshard), not here.\n")
	b.WriteString("sharding:\n")
	b.WriteString("  # modulo, consistent-hash or jump\n")
	fmt.Fprintf(&b, "  policy: %s\n", cfg.Sharding.Policy)
	b.WriteString("  # Ring points per shard (consistent-hash only)\n")
	fmt.Fprintf(&b, "  virtual_nodes: %d\n", cfg.Sharding.VirtualNodes)
	b.WriteString("  # DSN forms: memory://<name>, badger://<path>,\n")
	b.WriteString("  #   s3://[key:secret@]<bucket>/<prefix>?region=<region>&endpoint=<url>&force_path_style=true\n")
	b.WriteString("  shards:\n")
	b.WriteString(shardsYAML)
	b.WriteString("\n")

	b.WriteString("# Shard backend probes\n")
	b.WriteString("health:\n")
	fmt.Fprintf(&b, "  interval: %s\n", cfg.Health.Interval)
	fmt.Fprintf(&b, "  timeout: %s\n\n", cfg.Health.Timeout)

	b.WriteString("# Federation trust and signed requests\n")
	b.WriteString("federation:\n")
	b.WriteString("  # How long revoked servers are kept before purge\n")
	fmt.Fprintf(&b, "  grace_period: %s\n", cfg.Federation.GracePeriod)
	b.WriteString("  # Periodic purge of expired revoked servers\n")
	fmt.Fprintf(&b, "  purge_enabled: %t\n", *cfg.Federation.PurgeEnabled)
	fmt.Fprintf(&b, "  purge_interval: %s\n", cfg.Federation.PurgeInterval)
	b.WriteString("  # sha256 or sha512\n")
	fmt.Fprintf(&b, "  algorithm: %s\n", cfg.Federation.Algorithm)
	b.WriteString("  # Per-signer limit; 0 requests_per_second disables limiting\n")
	b.WriteString("  rate_limit:\n")
	fmt.Fprintf(&b, "    requests_per_second: %d\n", cfg.Federation.RateLimit.RequestsPerSecond)
	fmt.Fprintf(&b, "    burst: %d\n\n", cfg.Federation.RateLimit.Burst)

	b.WriteString("# Persisted topology and trust records\n")
	b.WriteString("state:\n")
	b.WriteString("  # memory (lost on restart) or badger\n")
	fmt.Fprintf(&b, "  type: %s\n", cfg.State.Type)
	b.WriteString("  badger:\n")
	b.WriteString(badgerYAML)
	b.WriteString("\n")

	b.WriteString("# Federation HTTP API (signed /federation/v1 requests only)\n")
	b.WriteString("api:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", cfg.API.Enabled)
	b.WriteString("  # Interface to bind; empty binds all interfaces\n")
	fmt.Fprintf(&b, "  address: %q\n", cfg.API.Address)
	fmt.Fprintf(&b, "  port: %d\n", cfg.API.Port)
	fmt.Fprintf(&b, "  read_timeout: %s\n", cfg.API.ReadTimeout)
	fmt.Fprintf(&b, "  write_timeout: %s\n", cfg.API.WriteTimeout)
	fmt.Fprintf(&b, "  idle_timeout: %s\n\n", cfg.API.IdleTimeout)

	b.WriteString("# Admin HTTP API (resharding and trust management)\n")
	b.WriteString("admin:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", cfg.Admin.Enabled)
	b.WriteString("  # Keep on loopback unless a token is set\n")
	fmt.Fprintf(&b, "  address: %s\n", cfg.Admin.Address)
	fmt.Fprintf(&b, "  port: %d\n", cfg.Admin.Port)
	b.WriteString("  # Bearer token for the Authorization header (or DITTOSHARD_ADMIN_TOKEN)\n")
	fmt.Fprintf(&b, "  token: %q\n\n", cfg.Admin.Token)

	b.WriteString("# Prometheus metrics at /metrics\n")
	b.WriteString("metrics:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", cfg.Metrics.Enabled)
	fmt.Fprintf(&b, "  port: %d\n", cfg.Metrics.Port)

	return b.String(), nil
}
