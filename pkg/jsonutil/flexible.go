// Package jsonutil tolerates the type drift in model-produced JSON:
// numeric fields arrive as strings, string fields arrive as numbers.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleString converts a raw JSON value to a string whatever its
// actual type. Null and absent values become the empty string.
func FlexibleString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return fmt.Sprintf("%g", n)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return string(raw)
}

// FlexibleInt converts a raw JSON value to an int, accepting numbers,
// numeric strings and strings with digit separators ("1,200"). The
// fallback is returned for null, absent or unreadable values.
func FlexibleInt(raw json.RawMessage, fallback int) int {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return int(v)
		}
	}

	return fallback
}
