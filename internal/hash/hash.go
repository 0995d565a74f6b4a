// Package hash fingerprints raw harvester payloads. Each harvester
// declares which payload fields participate in its digest; the digest
// is prefixed with the harvester version so a converter upgrade
// invalidates previously stored hashes.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key names one payload field participating in the digest. Ordered
// keys keep list values in payload order; unordered keys sort list
// elements so source-side shuffling does not change the digest.
type Key struct {
	Name    string
	Ordered bool
}

// Unit separator keeps adjacent field values from colliding.
const fieldSeparator = "\x1f"

// Digest computes the lower-case hex SHA-256 of the payload fields
// selected by keys, prefixed with version. Absent fields contribute an
// empty segment so key positions stay stable. Pure: identical inputs
// always produce identical output.
func Digest(version string, fields map[string]any, keys []Key) string {
	var b strings.Builder
	b.WriteString(version)
	for _, key := range keys {
		b.WriteString(fieldSeparator)
		value, ok := fields[key.Name]
		if !ok || value == nil {
			continue
		}
		b.WriteString(serialize(value, key.Ordered))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func serialize(value any, ordered bool) string {
	switch v := value.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		if !ordered {
			sort.Strings(parts)
		}
		return strings.Join(parts, ",")
	case []string:
		parts := append([]string(nil), v...)
		if !ordered {
			sort.Strings(parts)
		}
		return strings.Join(parts, ",")
	default:
		return stringify(value)
	}
}

// stringify renders a scalar or nested structure deterministically.
// json.Marshal sorts map keys, which keeps nested objects stable.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}
