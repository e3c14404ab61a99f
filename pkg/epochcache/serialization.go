package epochcache

import (
	"encoding/json"
	"fmt"

	"github.com/twzrd/attention-oracle-go/pkg/types"
)

// MarshalSnapshot serializes a SealedSnapshot to JSON bytes for cache
// storage.
func MarshalSnapshot(snap *types.SealedSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("cannot marshal nil SealedSnapshot")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SealedSnapshot to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot deserializes a SealedSnapshot from JSON bytes.
func UnmarshalSnapshot(data []byte) (*types.SealedSnapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var snap types.SealedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to SealedSnapshot: %w", err)
	}
	return &snap, nil
}
