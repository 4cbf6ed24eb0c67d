package trust

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a trust record.
type State int

const (
	// StateActive means signatures from the server are accepted
	StateActive State = iota

	// StateRevoked means trust was withdrawn; the record is kept until its
	// grace period expires so late requests are rejected as untrusted
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateRevoked:
		return "REVOKED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState converts the textual form produced by String back into a State.
func ParseState(s string) (State, error) {
	switch s {
	case "ACTIVE":
		return StateActive, nil
	case "REVOKED":
		return StateRevoked, nil
	default:
		return 0, newError(ErrInvalidArgument, "", "unknown trust state %q", s)
	}
}

// Server is a trust record for one federated server.
type Server struct {
	// URLHash identifies the server (HashURL of its normalized URL)
	URLHash string

	// URL is the normalized server URL, empty when trust was added by hash
	URL string

	// Secret is the shared HMAC secret
	Secret string

	State     State
	AddedAt   time.Time
	RevokedAt time.Time
}

// NormalizeURL canonicalizes a federated server URL: the scheme, a trailing
// slash and a trailing /index.php are removed and the result is lower-cased.
//
//	https://Cloud.Example.com/index.php/  ->  cloud.example.com
func NormalizeURL(url string) string {
	u := strings.TrimSpace(url)
	lower := strings.ToLower(u)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			u = u[len(scheme):]
			break
		}
	}
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, "/index.php")
	u = strings.TrimRight(u, "/")
	return strings.ToLower(u)
}

// HashURL returns the stable identifier of a server URL: the hex sha1 of its
// normalized form.
func HashURL(url string) string {
	return hashNormalized(NormalizeURL(url))
}

// hashNormalized hashes a URL that has already been through NormalizeURL.
// NormalizeURL strips one trailing /index.php per call, so it must not run
// twice on the same input.
func hashNormalized(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
