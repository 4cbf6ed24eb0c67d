// Package metrics defines the observability interfaces of the routing and
// federation layers.
//
// All metrics are optional: components accept nil and fall back to no-op
// implementations. The Prometheus implementations live in the prometheus
// subpackage and register against the global registry created here.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	routerMetrics := prometheus.NewRouterMetrics()
//	r := router.New(mapper, reg, routerMetrics)
//
//	// Or use nil for no-op behavior
//	r := router.New(mapper, reg, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dittoshard",
		Name:      "build_info",
		Help:      "Build information of the running shard server; the value is always 1.",
	}, []string{"version", "commit"})
)

// InitRegistry creates the global registry with the Go runtime, process and
// build info collectors. Subsequent calls are ignored.
//
// Until it is called GetRegistry returns nil and the prometheus constructors
// return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			buildInfo,
		)
		registry = r
	})
}

// SetBuildInfo publishes the running version. It is recorded even before
// InitRegistry and only exported once the registry exists.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
