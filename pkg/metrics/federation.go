package metrics

// Verification outcomes used as metric labels.
const (
	VerifyOK          = "ok"
	VerifyUntrusted   = "untrusted_signer"
	VerifyMismatch    = "signature_mismatch"
	VerifyMalformed   = "malformed_payload"
	VerifyRateLimited = "rate_limited"
)

// FederationMetrics observes the federation trust boundary.
type FederationMetrics interface {
	// RecordVerification counts one signature verification by outcome.
	RecordVerification(outcome string)

	// RecordPurged counts revoked trust records removed after their grace period.
	RecordPurged(count int)

	// SetTrustedServers reports the number of trust records by state.
	SetTrustedServers(active, revoked int)
}

// NewNoopFederationMetrics returns a FederationMetrics that discards everything.
func NewNoopFederationMetrics() FederationMetrics {
	return noopFederationMetrics{}
}

type noopFederationMetrics struct{}

func (noopFederationMetrics) RecordVerification(string)  {}
func (noopFederationMetrics) RecordPurged(int)           {}
func (noopFederationMetrics) SetTrustedServers(int, int) {}
