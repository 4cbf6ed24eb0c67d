package prometheus

import (
	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// federationMetrics is the Prometheus implementation of metrics.FederationMetrics.
type federationMetrics struct {
	verificationsTotal *prometheus.CounterVec
	purgedTotal        prometheus.Counter
	trustedServers     *prometheus.GaugeVec
}

// NewFederationMetrics creates federation metrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewFederationMetrics() metrics.FederationMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFederationMetrics()
	}
	return NewFederationMetricsWith(metrics.GetRegistry())
}

// NewFederationMetricsWith registers federation metrics on reg.
func NewFederationMetricsWith(reg prometheus.Registerer) metrics.FederationMetrics {
	return &federationMetrics{
		verificationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshard_federation_verifications_total",
				Help: "Total number of federation signature verifications by outcome",
			},
			[]string{"outcome"},
		),
		purgedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoshard_federation_purged_total",
				Help: "Total number of revoked trust records purged after the grace period",
			},
		),
		trustedServers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittoshard_federation_trusted_servers",
				Help: "Current number of trust records by state",
			},
			[]string{"state"},
		),
	}
}

func (m *federationMetrics) RecordVerification(outcome string) {
	m.verificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *federationMetrics) RecordPurged(count int) {
	m.purgedTotal.Add(float64(count))
}

func (m *federationMetrics) SetTrustedServers(active, revoked int) {
	m.trustedServers.WithLabelValues("active").Set(float64(active))
	m.trustedServers.WithLabelValues("revoked").Set(float64(revoked))
}
