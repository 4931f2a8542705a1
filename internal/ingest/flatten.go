package ingest

import (
	"encoding/json"
	"regexp"
	"strings"
)

// flattenRecord recursively flattens a decoded JSON value (or a CSV row,
// already flat) into dot-style compound keys: nested objects join with
// "_", arrays are stored as their JSON serialization rather than
// flattened further.
func flattenRecord(rec any) map[string]any {
	out := make(map[string]any)
	flattenInto(rec, "", out)
	return out
}

func flattenInto(rec any, prefix string, out map[string]any) {
	switch v := rec.(type) {
	case map[string]any:
		for k, val := range v {
			var next string
			if prefix != "" {
				next = prefix + k + "_"
			} else {
				next = k + "_"
			}
			flattenInto(val, next, out)
		}
	case []any:
		key := strings.TrimSuffix(prefix, "_")
		if b, err := json.Marshal(v); err == nil {
			out[key] = string(b)
		} else {
			out[key] = nil
		}
	default:
		key := strings.TrimSuffix(prefix, "_")
		out[key] = v
	}
}

var sanitizeColRe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// sanitizeCol maps a flattened key onto a valid embedded-store column
// name: non-identifier runs collapse to "_", a leading digit is prefixed
// with "c_", and an empty result defaults to "col".
func sanitizeCol(name string) string {
	n := sanitizeColRe.ReplaceAllString(strings.TrimSpace(name), "_")
	if n == "" {
		return "col"
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "c_" + n
	}
	return n
}
