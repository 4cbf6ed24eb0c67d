package prometheus

import (
	"testing"

	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRouterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRouterMetricsWith(reg).(*routerMetrics)

	m.RecordRoute(2, 3, metrics.OutcomeOK)
	m.RecordRoute(2, 3, metrics.OutcomeOK)
	m.RecordRoute(-1, 0, metrics.OutcomeInvalid)
	m.SetShardAvailable("shard-0", false)
	m.RecordMigrated(1, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.routesTotal.WithLabelValues("2", "3", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routesTotal.WithLabelValues("none", "0", "invalid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.shardAvailable.WithLabelValues("shard-0")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.migratedTotal.WithLabelValues("1")))
}

func TestFederationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFederationMetricsWith(reg).(*federationMetrics)

	m.RecordVerification(metrics.VerifyOK)
	m.RecordVerification(metrics.VerifyMismatch)
	m.RecordPurged(3)
	m.SetTrustedServers(4, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.verificationsTotal.WithLabelValues("signature_mismatch")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purgedTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.trustedServers.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trustedServers.WithLabelValues("revoked")))
}

func TestNoopWhenDisabled(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("global registry already initialized")
	}
	assert.Equal(t, metrics.NewNoopRouterMetrics(), NewRouterMetrics())
	assert.Equal(t, metrics.NewNoopFederationMetrics(), NewFederationMetrics())
}
