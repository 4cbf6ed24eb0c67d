package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittoshard/pkg/store/record"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Shard names and DSNs must be unique, and every DSN must parse
	names := make(map[string]int)
	dsns := make(map[string]int)
	for i, s := range cfg.Sharding.Shards {
		if j, dup := names[s.Name]; dup {
			return fmt.Errorf("sharding.shards[%d]: duplicate shard name %q (also shards[%d])", i, s.Name, j)
		}
		names[s.Name] = i

		if j, dup := dsns[s.DSN]; dup {
			return fmt.Errorf("sharding.shards[%d]: duplicate dsn %q (also shards[%d])", i, s.DSN, j)
		}
		dsns[s.DSN] = i

		if _, err := record.ParseDSN(s.DSN); err != nil {
			return fmt.Errorf("sharding.shards[%d]: %w", i, err)
		}
	}

	if cfg.Health.Timeout > cfg.Health.Interval {
		return fmt.Errorf("health: timeout (%s) must not exceed interval (%s)", cfg.Health.Timeout, cfg.Health.Interval)
	}

	if cfg.Federation.RateLimit.RequestsPerSecond == 0 && cfg.Federation.RateLimit.Burst > 0 {
		return fmt.Errorf("federation.rate_limit: burst is set but requests_per_second is 0 (unlimited)")
	}

	if cfg.State.Type == "badger" {
		if path, _ := cfg.State.Badger["db_path"].(string); path == "" {
			return fmt.Errorf("state.badger: db_path is required")
		}
	}

	if cfg.Admin.Enabled && cfg.Admin.Token == "" && !isLoopback(cfg.Admin.Address) {
		return fmt.Errorf("admin: token is required when address %q is not a loopback address", cfg.Admin.Address)
	}

	listeners := []struct {
		name    string
		enabled bool
		port    int
	}{
		{"api", cfg.API.Enabled, cfg.API.Port},
		{"admin", cfg.Admin.Enabled, cfg.Admin.Port},
		{"metrics", cfg.Metrics.Enabled, cfg.Metrics.Port},
	}
	for i, a := range listeners {
		for _, b := range listeners[i+1:] {
			if a.enabled && b.enabled && a.port == b.port {
				return fmt.Errorf("%s and %s cannot share port %d", a.name, b.name, a.port)
			}
		}
	}

	return nil
}

// isLoopback reports whether addr is "localhost" or a loopback IP.
func isLoopback(addr string) bool {
	if strings.EqualFold(addr, "localhost") {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
