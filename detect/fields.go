package detect

import "encoding/json"

// asMap coerces a response object into a generic map. Maps (decoded JSON) are
// used as-is; anything else takes one round trip through encoding/json so SDK
// structs and raw decoded values look the same to the guards.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return t, true
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(t, &m); err != nil {
			return nil, false
		}
		return m, true
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// numField reports whether key holds a defined numeric value. A key that is
// absent or null is not defined; several guards depend on this distinction.
func numField(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// intField is numField with a zero default for optional counts.
func intField(m map[string]any, key string) int {
	n, _ := numField(m, key)
	return n
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

func mapField(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	sub, ok := m[key].(map[string]any)
	return sub, ok
}

func sliceField(m map[string]any, key string) ([]any, bool) {
	if m == nil {
		return nil, false
	}
	s, ok := m[key].([]any)
	return s, ok
}
