package badger

// Database Key Namespace
// ======================
//
// Data Type        Prefix    Key Format            Value Type
// ==============================================================
// Topology         "topo:"   topo:current          TopologyRecord (JSON)
// Trust Records    "trust:"  trust:<url hash>      TrustRecord (JSON)
//
// 1. Topology (topo:)
//    - Singleton: the registry persists its whole topology on every mutation
//    - Point lookup: O(1)
//
// 2. Trust Records (trust:)
//    - One entry per trusted (or revoked, not yet purged) server
//    - URL hashes are hex, so lexicographic order is the listing order
//    - Listing: prefix scan over "trust:"

const (
	// prefixTopology is the key prefix for the persisted topology
	prefixTopology = "topo:"

	// prefixTrust is the key prefix for trust records
	prefixTrust = "trust:"
)

// keyTopology returns the key of the topology singleton.
func keyTopology() []byte {
	return []byte(prefixTopology + "current")
}

// keyTrust returns the key of a trust record.
//
// Format: "trust:<urlHash>"
func keyTrust(urlHash string) []byte {
	return []byte(prefixTrust + urlHash)
}
