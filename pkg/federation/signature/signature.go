// Package signature authenticates payloads signed by federated servers.
//
// A payload is accepted only when its signer is ACTIVE in the trust store and
// the HMAC of its body under the signer's shared secret matches the supplied
// signature. Signatures are hex-encoded HMAC digests.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Algorithm is the HMAC hash function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// ParseAlgorithm validates an algorithm name. Empty selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case SHA512:
		return SHA512, nil
	default:
		return "", fmt.Errorf("unsupported signature algorithm %q (supported: sha256, sha512)", name)
	}
}

func (a Algorithm) hash() func() hash.Hash {
	if a == SHA512 {
		return sha512.New
	}
	return sha256.New
}

// Payload is a signed message received from a federated server. It is never persisted.
type Payload struct {
	Body          []byte
	Signature     string
	SignerURLHash string
}

// ErrorCode represents why a payload was rejected.
type ErrorCode int

const (
	// ErrUntrustedSigner indicates the signer is unknown or REVOKED
	ErrUntrustedSigner ErrorCode = iota

	// ErrSignatureMismatch indicates the HMAC does not match the body
	ErrSignatureMismatch

	// ErrMalformedPayload indicates a missing signer or an empty or undecodable signature
	ErrMalformedPayload
)

func (c ErrorCode) String() string {
	switch c {
	case ErrUntrustedSigner:
		return "UntrustedSigner"
	case ErrSignatureMismatch:
		return "SignatureMismatch"
	case ErrMalformedPayload:
		return "MalformedPayload"
	default:
		return "Unknown"
	}
}

// VerificationError is returned by Verify for every rejected payload.
type VerificationError struct {
	Code   ErrorCode
	Signer string
}

func (e *VerificationError) Error() string {
	switch e.Code {
	case ErrUntrustedSigner:
		return fmt.Sprintf("untrusted signer %q", e.Signer)
	case ErrSignatureMismatch:
		return fmt.Sprintf("signature mismatch for signer %q", e.Signer)
	default:
		return fmt.Sprintf("malformed signed payload (signer=%q)", e.Signer)
	}
}

// IsCode reports whether err is (or wraps) a verification error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var vErr *VerificationError
	if errors.As(err, &vErr) {
		return vErr.Code == code
	}
	return false
}

// Compute returns the hex HMAC of body under secret.
func Compute(alg Algorithm, secret string, body []byte) string {
	mac := hmac.New(alg.hash(), []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Signer produces signatures for outbound requests.
type Signer struct {
	URLHash   string
	Secret    string
	Algorithm Algorithm
}

// Sign returns the hex signature of body.
func (s Signer) Sign(body []byte) string {
	return Compute(s.Algorithm, s.Secret, body)
}

// Payload wraps body into a signed payload.
func (s Signer) Payload(body []byte) Payload {
	return Payload{Body: body, Signature: s.Sign(body), SignerURLHash: s.URLHash}
}
