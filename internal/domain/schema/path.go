package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ValueAt walks nested JSON objects along path. Keys are matched exactly first,
// then case-insensitively.
func ValueAt(payload any, path ...string) (any, bool) {
	current := payload
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			next, ok = lookupFold(obj, key)
			if !ok {
				return nil, false
			}
		}
		current = next
	}
	return current, current != nil
}

func lookupFold(obj map[string]any, key string) (any, bool) {
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// NumberAt resolves path to a finite number. Numeric strings are accepted.
func NumberAt(payload any, path ...string) (float64, error) {
	raw, ok := ValueAt(payload, path...)
	if !ok {
		return 0, fmt.Errorf("no value at %s", strings.Join(path, "."))
	}
	value, err := toFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("value at %s: %w", strings.Join(path, "."), err)
	}
	return value, nil
}

func toFloat(raw any) (float64, error) {
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case uint64:
		value = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse number %q: %w", v.String(), err)
		}
		value = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("parse number %q: %w", v, err)
		}
		value = parsed
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("non-finite value %v", value)
	}
	return value, nil
}

// TimeAt resolves path to a provider timestamp. Numbers are unix seconds, or
// milliseconds when too large to be seconds; strings may also be RFC 3339.
func TimeAt(payload any, path ...string) (time.Time, bool) {
	raw, ok := ValueAt(payload, path...)
	if !ok {
		return time.Time{}, false
	}
	if text, isText := raw.(string); isText {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(text)); err == nil {
			return parsed.UTC(), true
		}
	}
	value, err := toFloat(raw)
	if err != nil || value <= 0 {
		return time.Time{}, false
	}
	if value >= 1e12 {
		return time.UnixMilli(int64(value)).UTC(), true
	}
	sec, frac := math.Modf(value)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
