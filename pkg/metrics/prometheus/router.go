package prometheus

import (
	"strconv"

	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// routerMetrics is the Prometheus implementation of metrics.RouterMetrics.
type routerMetrics struct {
	routesTotal    *prometheus.CounterVec
	shardAvailable *prometheus.GaugeVec
	migratedTotal  *prometheus.CounterVec
}

// NewRouterMetrics creates router metrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewRouterMetrics() metrics.RouterMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRouterMetrics()
	}
	return NewRouterMetricsWith(metrics.GetRegistry())
}

// NewRouterMetricsWith registers router metrics on reg.
func NewRouterMetricsWith(reg prometheus.Registerer) metrics.RouterMetrics {
	return &routerMetrics{
		routesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshard_routes_total",
				Help: "Total number of routing decisions by shard, generation and outcome",
			},
			[]string{"shard", "generation", "outcome"},
		),
		shardAvailable: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittoshard_shard_available",
				Help: "Whether the last health probe of a shard backend succeeded (1) or failed (0)",
			},
			[]string{"backend"},
		),
		migratedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoshard_migrated_records_total",
				Help: "Total number of records moved off draining shards",
			},
			[]string{"shard"},
		),
	}
}

func (m *routerMetrics) RecordRoute(index int, generation uint64, outcome string) {
	shardLabel := "none"
	if index >= 0 {
		shardLabel = strconv.Itoa(index)
	}
	m.routesTotal.WithLabelValues(shardLabel, strconv.FormatUint(generation, 10), outcome).Inc()
}

func (m *routerMetrics) SetShardAvailable(name string, available bool) {
	value := 0.0
	if available {
		value = 1
	}
	m.shardAvailable.WithLabelValues(name).Set(value)
}

func (m *routerMetrics) RecordMigrated(fromIndex int, count int) {
	m.migratedTotal.WithLabelValues(strconv.Itoa(fromIndex)).Add(float64(count))
}
