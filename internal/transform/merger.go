package transform

import (
	"encoding/json"
	"fmt"
)

// MergeAggregate combines a primary JSON response with secondary payloads
// keyed by aggregation name. Each secondary body is nested under its key
// as a shallow union over the primary object; a nil secondary body leaves
// its key absent. A primary body that is not a JSON object is nested
// under "result" instead of merged.
func MergeAggregate(primary []byte, secondaries map[string][]byte) ([]byte, error) {
	merged := make(map[string]json.RawMessage)

	if len(primary) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(primary, &fields); err == nil {
			merged = fields
		} else {
			merged["result"] = json.RawMessage(primary)
		}
	}

	for key, body := range secondaries {
		if body == nil {
			continue
		}
		if !json.Valid(body) {
			quoted, err := json.Marshal(string(body))
			if err != nil {
				return nil, fmt.Errorf("failed to encode secondary payload %q: %w", key, err)
			}
			merged[key] = quoted
			continue
		}
		merged[key] = json.RawMessage(body)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode aggregate response: %w", err)
	}
	return out, nil
}
