package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvLookup resolves environment variables; os.LookupEnv satisfies it.
type EnvLookup func(key string) (string, bool)

// Settings are resolved adapter settings keyed by schema name.
type Settings struct {
	values map[string]any
	schema []Setting
}

// ResolveSettings merges schema defaults, configured values and environment
// variables, in increasing priority. For a setting NAME the environment is
// checked as PREFIX_NAME first, then NAME.
func ResolveSettings(adapter string, schema []Setting, configured map[string]any, env EnvLookup, prefix string) (Settings, error) {
	values := make(map[string]any, len(schema))
	for _, def := range schema {
		if def.Default != nil {
			values[def.Name] = def.Default
		}
		if raw, ok := lookupConfigured(configured, def.Name); ok {
			values[def.Name] = raw
		}
		if env != nil {
			for _, key := range envKeys(prefix, def.Name) {
				if text, ok := env(key); ok && strings.TrimSpace(text) != "" {
					values[def.Name] = strings.TrimSpace(text)
					break
				}
			}
		}
		if def.Required && isEmptySetting(values[def.Name]) {
			return Settings{}, fmt.Errorf("%s: required setting %s is not set", adapter, def.Name)
		}
		if err := checkType(def, values[def.Name]); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", adapter, err)
		}
	}
	return Settings{values: values, schema: CloneSettings(schema)}, nil
}

// NewSettings wraps explicit values, mainly for tests.
func NewSettings(values map[string]any) Settings {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Settings{values: copied}
}

func envKeys(prefix, name string) []string {
	upper := strings.ToUpper(name)
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		return []string{upper}
	}
	p = strings.NewReplacer("-", "_", " ", "_").Replace(p)
	return []string{p + "_" + upper, upper}
}

func lookupConfigured(cfg map[string]any, name string) (any, bool) {
	if cfg == nil {
		return nil, false
	}
	if raw, ok := cfg[name]; ok && raw != nil {
		return raw, true
	}
	for k, v := range cfg {
		if strings.EqualFold(k, name) && v != nil {
			return v, true
		}
	}
	return nil, false
}

func isEmptySetting(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func checkType(def Setting, v any) error {
	if isEmptySetting(v) {
		return nil
	}
	var err error
	switch def.Type {
	case "number":
		_, err = toFloat(v)
	case "int":
		_, err = toInt(v)
	case "duration":
		_, err = toDuration(v)
	case "boolean", "bool":
		_, err = toBool(v)
	}
	if err != nil {
		return fmt.Errorf("setting %s: %w", def.Name, err)
	}
	return nil
}

// String returns the setting as a trimmed string.
func (s Settings) String(name string) string {
	v, ok := s.values[name]
	if !ok || v == nil {
		return ""
	}
	if text, ok := v.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Int returns the setting as an int, or fallback when unset or invalid.
func (s Settings) Int(name string, fallback int) int {
	v, ok := s.values[name]
	if !ok {
		return fallback
	}
	out, err := toInt(v)
	if err != nil {
		return fallback
	}
	return out
}

// Float returns the setting as a float64, or fallback when unset or invalid.
func (s Settings) Float(name string, fallback float64) float64 {
	v, ok := s.values[name]
	if !ok {
		return fallback
	}
	out, err := toFloat(v)
	if err != nil {
		return fallback
	}
	return out
}

// Duration returns the setting as a duration, or fallback when unset or invalid.
// Bare numbers are milliseconds.
func (s Settings) Duration(name string, fallback time.Duration) time.Duration {
	v, ok := s.values[name]
	if !ok {
		return fallback
	}
	out, err := toDuration(v)
	if err != nil || out <= 0 {
		return fallback
	}
	return out
}

// Bool returns the setting as a bool, or fallback when unset or invalid.
func (s Settings) Bool(name string, fallback bool) bool {
	v, ok := s.values[name]
	if !ok {
		return fallback
	}
	out, err := toBool(v)
	if err != nil {
		return fallback
	}
	return out
}

// Redacted returns the settings with sensitive values removed.
func (s Settings) Redacted() map[string]any {
	sensitive := make(map[string]bool, len(s.schema))
	for _, def := range s.schema {
		sensitive[def.Name] = def.Sensitive
	}
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		if sensitive[k] || ShouldRedactKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func toInt(v any) (int, error) {
	switch typed := v.(type) {
	case int:
		return typed, nil
	case int64:
		return int(typed), nil
	case float64:
		return int(typed), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(typed))
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch typed := v.(type) {
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case float64:
		return typed, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(typed), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toDuration(v any) (time.Duration, error) {
	switch typed := v.(type) {
	case time.Duration:
		return typed, nil
	case int:
		return time.Duration(typed) * time.Millisecond, nil
	case int64:
		return time.Duration(typed) * time.Millisecond, nil
	case float64:
		return time.Duration(typed * float64(time.Millisecond)), nil
	case string:
		text := strings.TrimSpace(typed)
		if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(text)
	default:
		return 0, fmt.Errorf("expected duration, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch typed := v.(type) {
	case bool:
		return typed, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(typed))
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}
