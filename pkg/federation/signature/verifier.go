package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/metrics"
)

// TrustSource resolves a signer to its trust record. *trust.Store satisfies it.
type TrustSource interface {
	Lookup(urlHash string) (trust.Server, bool)
}

// Claims describes an accepted payload.
type Claims struct {
	Signer     string
	URL        string
	VerifiedAt time.Time
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Trust     TrustSource
	Algorithm Algorithm

	// Metrics receives verification outcomes. Nil disables metrics.
	Metrics metrics.FederationMetrics

	// Clock stamps Claims.VerifiedAt. Nil selects time.Now.
	Clock func() time.Time
}

// Verifier checks signed payloads against the trust store.
type Verifier struct {
	trust     TrustSource
	algorithm Algorithm
	metrics   metrics.FederationMetrics
	now       func() time.Time
}

// NewVerifier creates a verifier. An empty algorithm selects SHA256.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.Algorithm == "" {
		cfg.Algorithm = SHA256
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopFederationMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Verifier{
		trust:     cfg.Trust,
		algorithm: cfg.Algorithm,
		metrics:   cfg.Metrics,
		now:       cfg.Clock,
	}
}

// Algorithm returns the HMAC algorithm in use.
func (v *Verifier) Algorithm() Algorithm {
	return v.algorithm
}

// Verify accepts or rejects p. It either returns claims or an error, never both.
//
// The trust record is read once, so the trust decision and the secret used
// for the HMAC always come from the same snapshot: a concurrent revocation
// or rotation cannot make a payload pass with a stale secret after the
// signer was seen as REVOKED.
func (v *Verifier) Verify(p Payload) (*Claims, error) {
	signer := strings.TrimSpace(p.SignerURLHash)
	signature := strings.TrimSpace(p.Signature)

	if signer == "" || signature == "" {
		return nil, v.reject(ErrMalformedPayload, signer, metrics.VerifyMalformed)
	}

	record, ok := v.trust.Lookup(signer)
	if !ok || record.State != trust.StateActive {
		return nil, v.reject(ErrUntrustedSigner, signer, metrics.VerifyUntrusted)
	}

	candidate, err := hex.DecodeString(signature)
	if err != nil {
		return nil, v.reject(ErrMalformedPayload, signer, metrics.VerifyMalformed)
	}

	mac := hmac.New(v.algorithm.hash(), []byte(record.Secret))
	_, _ = mac.Write(p.Body)
	if !hmac.Equal(mac.Sum(nil), candidate) {
		return nil, v.reject(ErrSignatureMismatch, signer, metrics.VerifyMismatch)
	}

	v.metrics.RecordVerification(metrics.VerifyOK)
	return &Claims{Signer: signer, URL: record.URL, VerifiedAt: v.now()}, nil
}

func (v *Verifier) reject(code ErrorCode, signer, outcome string) error {
	v.metrics.RecordVerification(outcome)
	logger.Warn("Rejected federated payload: %s (signer=%q)", code, signer)
	return &VerificationError{Code: code, Signer: signer}
}
