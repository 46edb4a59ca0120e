package render

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Number converts context values to float64. Numeric strings are accepted.
func Number(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return f, err == nil
	}
	return 0, false
}

// Time converts RFC3339 strings and time values.
func Time(v any) (time.Time, bool) {
	switch typed := v.(type) {
	case time.Time:
		return typed.UTC(), !typed.IsZero()
	case *time.Time:
		if typed == nil {
			return time.Time{}, false
		}
		return typed.UTC(), !typed.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, strings.TrimSpace(typed)); err == nil {
				return t.UTC(), true
			}
		}
	case float64:
		// epoch milliseconds, as emitted by the CRM webhooks
		return time.UnixMilli(int64(typed)).UTC(), typed > 0
	case int64:
		return time.UnixMilli(typed).UTC(), typed > 0
	}
	return time.Time{}, false
}

// Bool converts booleans and "true"/"false" strings.
func Bool(v any) (bool, bool) {
	switch typed := v.(type) {
	case bool:
		return typed, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(typed))
		return b, err == nil
	}
	return false, false
}

// Text returns the string form of v and whether it was present.
func Text(ctx Context, path string) string {
	v, ok := ctx.Lookup(path)
	if !ok {
		return ""
	}
	return strings.TrimSpace(Stringify(v))
}
