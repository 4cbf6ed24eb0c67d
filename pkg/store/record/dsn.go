package record

import (
	"fmt"
	"net/url"
	"strings"
)

// Backend types understood by ParseDSN.
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeS3     = "s3"
)

// DSN is a parsed shard connection descriptor.
//
// Options holds the backend-specific settings in the shape expected by the
// store factories, which decode it with mapstructure:
//
//	memory://shard-0                      -> {name: shard-0}
//	badger:///var/lib/dittoshard/shard-0  -> {db_path: /var/lib/dittoshard/shard-0}
//	s3://bucket/prefix?region=eu-west-1   -> {bucket: bucket, key_prefix: prefix/, region: eu-west-1}
type DSN struct {
	Type    string
	Options map[string]any
}

// ParseDSN splits a shard DSN into its backend type and options.
// Query parameters become options verbatim (e.g. endpoint, force_path_style).
func ParseDSN(raw string) (*DSN, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid shard dsn %q: %w", raw, err)
	}

	options := make(map[string]any)
	for k, v := range u.Query() {
		if len(v) > 0 {
			options[k] = v[len(v)-1]
		}
	}

	switch u.Scheme {
	case TypeMemory:
		name := u.Host + u.Path
		if name == "" {
			return nil, fmt.Errorf("invalid shard dsn %q: memory store requires a name", raw)
		}
		options["name"] = name

	case TypeBadger:
		path := u.Path
		if u.Host != "" {
			// badger://relative/dir
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, fmt.Errorf("invalid shard dsn %q: badger store requires a path", raw)
		}
		options["db_path"] = path

	case TypeS3:
		if u.Host == "" {
			return nil, fmt.Errorf("invalid shard dsn %q: s3 store requires a bucket", raw)
		}
		options["bucket"] = u.Host
		if prefix := strings.Trim(u.Path, "/"); prefix != "" {
			options["key_prefix"] = prefix + "/"
		}
		if u.User != nil {
			options["access_key_id"] = u.User.Username()
			if secret, ok := u.User.Password(); ok {
				options["secret_access_key"] = secret
			}
		}

	default:
		return nil, fmt.Errorf("invalid shard dsn %q: unknown backend %q (supported: %s, %s, %s)",
			raw, u.Scheme, TypeMemory, TypeBadger, TypeS3)
	}

	return &DSN{Type: u.Scheme, Options: options}, nil
}
