package adapter

import "strings"

var (
	sensitiveFragments = []string{
		"secret",
		"passphrase",
		"apikey",
		"accesskey",
		"userkey",
		"privatekey",
		"token",
		"password",
		"dsn",
	}

	settingKeyReplacer = strings.NewReplacer("-", "", "_", "", " ", "")
)

// ShouldRedactKey reports whether a setting key looks like a credential.
func ShouldRedactKey(key string) bool {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return false
	}
	normalized := settingKeyReplacer.Replace(strings.ToLower(trimmed))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// SanitizeConfig returns a copy of cfg with credential-like keys removed, recursing into nested maps.
func SanitizeConfig(cfg map[string]any) map[string]any {
	if len(cfg) == 0 {
		return nil
	}
	clean := make(map[string]any, len(cfg))
	for key, value := range cfg {
		if ShouldRedactKey(key) {
			continue
		}
		switch typed := value.(type) {
		case map[string]any:
			nested := SanitizeConfig(typed)
			if nested == nil {
				continue
			}
			clean[key] = nested
		case []any:
			items := make([]any, 0, len(typed))
			for _, item := range typed {
				if m, ok := item.(map[string]any); ok {
					if nested := SanitizeConfig(m); nested != nil {
						items = append(items, nested)
					}
					continue
				}
				items = append(items, item)
			}
			clean[key] = items
		default:
			clean[key] = value
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
