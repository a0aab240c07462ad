package kvdb

import "encoding/json"

// JSONer is implemented by caller types that can convert themselves to a
// JSON-representable value. Normalize honors it before falling back to
// encoding/json.
type JSONer interface {
	ToJSON() any
}

// Normalize converts v into a value built only from JSON primitives
// (nil, bool, float64, string, []any, map[string]any).
//
// The Store itself accepts only already-normalized values; Normalize is the
// adaptation layer callers run at the boundary. Values that cannot be
// represented as JSON fail with a SERIALIZATION_ERROR.
func Normalize(v any) (any, error) {
	if j, ok := v.(JSONer); ok {
		v = j.ToJSON()
	}
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, SerializationError("value is not JSON-representable", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, SerializationError("value did not round-trip through JSON", err)
	}
	return out, nil
}
