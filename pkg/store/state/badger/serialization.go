package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittoshard/pkg/store/state"
)

// Both value types are JSON encoded: they are small, written rarely, and
// readable with any badger inspection tool.

func encodeTopology(t *state.TopologyRecord) ([]byte, error) {
	bytes, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode topology: %w", err)
	}
	return bytes, nil
}

func decodeTopology(bytes []byte) (*state.TopologyRecord, error) {
	var t state.TopologyRecord
	if err := json.Unmarshal(bytes, &t); err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}
	return &t, nil
}

func encodeTrust(r state.TrustRecord) ([]byte, error) {
	bytes, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trust record %s: %w", r.URLHash, err)
	}
	return bytes, nil
}

func decodeTrust(bytes []byte) (state.TrustRecord, error) {
	var r state.TrustRecord
	if err := json.Unmarshal(bytes, &r); err != nil {
		return state.TrustRecord{}, fmt.Errorf("failed to decode trust record: %w", err)
	}
	return r, nil
}
