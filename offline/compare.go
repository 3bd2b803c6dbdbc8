package offline

import (
	"fmt"
	"time"

	"github.com/hredostate/yebo-sub011/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// singleIDMatch reports whether a match filter targets exactly one row by
// id. Multi-column and bulk filters are out of scope for conflict checks.
func singleIDMatch(match models.Row) (any, bool) {
	if len(match) != 1 {
		return nil, false
	}
	id, ok := match["id"]
	if !ok {
		return nil, false
	}
	return id, true
}

// fieldsDiffer compares the queued payload against the server row field by
// field. Every payload field counts: a field the server row lacks is a
// difference, scalars compare by normalized value, and a structured value
// (object or array) on either side always counts as a difference, since a
// byte-level comparison of decoded JSON is not reliable.
func fieldsDiffer(payload, server models.Row) bool {
	for field, local := range payload {
		remote, ok := server[field]
		if !ok {
			return true
		}
		if !scalarEqual(local, remote) {
			return true
		}
	}
	return false
}

func scalarEqual(a, b any) bool {
	if isStructured(a) || isStructured(b) {
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return normalize(a) == normalize(b)
}

func isStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any, models.Row:
		return true
	}
	return false
}

// normalize flattens numeric and stringable values to a comparable form.
// JSON decoding yields float64 for every number, but queued payloads built
// in process may carry ints.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case bool, string:
		return n
	default:
		return fmt.Sprintf("%v", n)
	}
}

// parseServerTime accepts the timestamp shapes backends actually emit:
// RFC 3339 strings with or without sub-second precision, and epoch
// milliseconds as a JSON number.
func parseServerTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
