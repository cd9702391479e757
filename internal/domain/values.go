package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// inferValue converts a raw CSV cell into a JSON-friendly value: integers and
// decimals become numbers, blank cells become nil.
func inferValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && isFinite(f) {
		return f
	}
	return s
}

// parseOptionalFloat returns nil for blank or non-numeric cells.
func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(f) {
		return nil
	}
	return &f
}

// parseIntegral accepts "42" as well as "42.0", which is how numeric ID
// columns come out of spreadsheet exports.
func parseIntegral(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(f) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// toInt coerces a decoded JSON value to an int. Strings are parsed, so a
// zero-padded "08" yields 8.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if !isFinite(n) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		return parseIntegral(n.String())
	case string:
		return parseIntegral(n)
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, isFinite(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && isFinite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && isFinite(f)
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
