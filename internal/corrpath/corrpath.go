// Package corrpath implements the correlation-token JSON path format: a
// dot-separated sequence of field names with no array indices and no
// escaping, e.g. "a.b.c" means payload["a"]["b"]["c"]. The terminal value
// must be a JSON string.
package corrpath

import (
	"encoding/json"
	"strings"
)

// Path is a parsed correlation-token path. A nil or empty Path means "no
// path configured" — extraction always yields the empty string in that case.
type Path []string

// Parse splits a dot-separated path string into its field-name sequence.
// An empty string parses to a nil Path (the "no path" case).
func Parse(raw string) Path {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ".")
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Extract walks payload (raw JSON) along path and returns the terminal
// string value. If path is empty, it returns "" with ok=true (the
// shared-empty-token case from spec.md §4.3). Any parse failure, missing
// field, or non-string terminal value returns ok=false and the message must
// be dropped by the caller — never propagated as an error to user code.
func Extract(payload []byte, path Path) (token string, ok bool) {
	if len(path) == 0 {
		return "", true
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", false
	}

	var cur any = doc
	for i, field := range path {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return "", false
		}
		v, present := m[field]
		if !present {
			return "", false
		}
		if i == len(path)-1 {
			s, isStr := v.(string)
			if !isStr {
				return "", false
			}
			return s, true
		}
		cur = v
	}
	return "", false
}
