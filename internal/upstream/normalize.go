package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/Naeem401/sport-server/internal/model"
)

// collection keys the provider has been observed wrapping result sets in
var collectionKeys = []string{"result", "data", "matches", "events"}

// Normalize decodes an upstream response body into a flat record slice.
// Every accepted shape is enumerated here and nowhere else:
//
//   - JSON array of objects
//   - object wrapping an array under "result", "data", "matches" or "events"
//   - single object (normalized to a one-element slice)
//   - null or an empty body (normalized to an empty slice)
//
// Anything else is ErrMalformed.
func Normalize(body []byte) ([]model.Record, error) {
	if len(body) == 0 {
		return []model.Record{}, nil
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch v := raw.(type) {
	case nil:
		return []model.Record{}, nil

	case []any:
		return toRecords(v)

	case map[string]any:
		for _, key := range collectionKeys {
			wrapped, ok := v[key]
			if !ok {
				continue
			}
			switch inner := wrapped.(type) {
			case nil:
				return []model.Record{}, nil
			case []any:
				return toRecords(inner)
			case map[string]any:
				// single object under a collection key
				return []model.Record{model.Record(inner)}, nil
			default:
				return nil, fmt.Errorf("%w: %q wraps %T", ErrMalformed, key, wrapped)
			}
		}
		// bare object with no collection key is a single record
		return []model.Record{model.Record(v)}, nil

	default:
		return nil, fmt.Errorf("%w: unexpected top-level %T", ErrMalformed, raw)
	}
}

func toRecords(items []any) ([]model.Record, error) {
	records := make([]model.Record, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: collection element is %T", ErrMalformed, item)
		}
		records = append(records, model.Record(obj))
	}
	return records, nil
}
