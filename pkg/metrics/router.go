package metrics

// Routing outcomes used as metric labels.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// RouterMetrics observes routing decisions and shard health.
type RouterMetrics interface {
	// RecordRoute counts one routing decision. index is -1 when the key
	// could not be resolved to a shard.
	RecordRoute(index int, generation uint64, outcome string)

	// SetShardAvailable records the last health probe result of a backend.
	SetShardAvailable(name string, available bool)

	// RecordMigrated counts records moved off a draining shard.
	RecordMigrated(fromIndex int, count int)
}

// NewNoopRouterMetrics returns a RouterMetrics that discards everything.
func NewNoopRouterMetrics() RouterMetrics {
	return noopRouterMetrics{}
}

type noopRouterMetrics struct{}

func (noopRouterMetrics) RecordRoute(int, uint64, string) {}
func (noopRouterMetrics) SetShardAvailable(string, bool)  {}
func (noopRouterMetrics) RecordMigrated(int, int)         {}
