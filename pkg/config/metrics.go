package config

import (
	"github.com/marmos91/dittoshard/pkg/metrics"
	promMetrics "github.com/marmos91/dittoshard/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Router observes routing, health and migration (never nil, noop if disabled)
	Router metrics.RouterMetrics

	// Federation observes signature checks and trust records (never nil, noop if disabled)
	Federation metrics.FederationMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Router:     metrics.NewNoopRouterMetrics(),
			Federation: metrics.NewNoopFederationMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:     metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Router:     promMetrics.NewRouterMetrics(),
		Federation: promMetrics.NewFederationMetrics(),
	}
}
