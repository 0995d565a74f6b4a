package harvester

// =============================================================================
// RAW FIELD ACCESS
// =============================================================================
//
// Raw payloads arrive as map[string]any regardless of their native
// shape. These accessors absorb the type looseness of decoded JSON so
// adapters read fields without repeating assertions.

// StringField returns the field as a string, or "" when absent or not
// a string. Numeric JSON values are not coerced.
func StringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// StringsField returns the field as a string slice. A scalar string
// is wrapped into a one-element slice; non-string elements are
// skipped.
func StringsField(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// NumberField returns the field as a float64 with a presence flag.
// JSON numbers decode as float64; int is accepted for hand-built
// payloads in tests.
func NumberField(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// MapField returns the field as a nested object, or nil.
func MapField(fields map[string]any, key string) map[string]any {
	if v, ok := fields[key].(map[string]any); ok {
		return v
	}
	return nil
}

// MapsField returns the field as a slice of nested objects,
// skipping elements of any other type.
func MapsField(fields map[string]any, key string) []map[string]any {
	arr, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
