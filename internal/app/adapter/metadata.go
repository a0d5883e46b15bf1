package adapter

import (
	"math"
	"sort"
	"strings"
)

// Metadata describes static metadata about an adapter.
type Metadata struct {
	Identifier      string         `json:"identifier"`
	DisplayName     string         `json:"displayName,omitempty"`
	Description     string         `json:"description,omitempty"`
	Capabilities    []string       `json:"capabilities,omitempty"`
	DefaultEndpoint string         `json:"defaultEndpoint,omitempty"`
	Endpoints       []EndpointInfo `json:"endpoints,omitempty"`
	SettingsSchema  []Setting      `json:"settingsSchema"`
	RateLimits      RateLimits     `json:"rateLimits,omitempty"`
}

// EndpointInfo lists an endpoint and its parameters for discovery.
type EndpointInfo struct {
	Name    string       `json:"name"`
	Aliases []string     `json:"aliases,omitempty"`
	Kind    Kind         `json:"kind"`
	Params  []InputParam `json:"params,omitempty"`
}

// Setting details a user-configurable adapter parameter.
type Setting struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Required    bool   `json:"required"`
	Sensitive   bool   `json:"sensitive,omitempty"`
}

// RateTier is a provider subscription tier. Zero fields are unlimited.
type RateTier struct {
	Name      string  `json:"name"`
	PerSecond float64 `json:"rateLimit1s,omitempty"`
	PerMinute float64 `json:"rateLimit1m,omitempty"`
	PerHour   float64 `json:"rateLimit1h,omitempty"`
}

// PerSecondLimit returns the most restrictive tier limit expressed in requests per second.
// Zero means unlimited.
func (t RateTier) PerSecondLimit() float64 {
	limit := math.Inf(1)
	if t.PerSecond > 0 {
		limit = math.Min(limit, t.PerSecond)
	}
	if t.PerMinute > 0 {
		limit = math.Min(limit, t.PerMinute/60)
	}
	if t.PerHour > 0 {
		limit = math.Min(limit, t.PerHour/3600)
	}
	if math.IsInf(limit, 1) {
		return 0
	}
	return limit
}

// RateLimits holds the tiers an adapter supports.
type RateLimits struct {
	Tiers []RateTier `json:"tiers,omitempty"`
}

// Tier finds a tier by name. An empty name selects the first tier.
func (r RateLimits) Tier(name string) (RateTier, bool) {
	if len(r.Tiers) == 0 {
		return RateTier{}, false
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return r.Tiers[0], true
	}
	for _, tier := range r.Tiers {
		if strings.ToLower(tier.Name) == trimmed {
			return tier, true
		}
	}
	return RateTier{}, false
}

// Clone returns a deep copy of the adapter metadata.
func (m Metadata) Clone() Metadata {
	clone := m
	clone.Capabilities = append([]string(nil), m.Capabilities...)
	clone.SettingsSchema = CloneSettings(m.SettingsSchema)
	if len(m.Endpoints) > 0 {
		clone.Endpoints = make([]EndpointInfo, len(m.Endpoints))
		for i, ep := range m.Endpoints {
			clone.Endpoints[i] = EndpointInfo{
				Name:    ep.Name,
				Aliases: append([]string(nil), ep.Aliases...),
				Kind:    ep.Kind,
				Params:  append([]InputParam(nil), ep.Params...),
			}
		}
	}
	clone.RateLimits.Tiers = append([]RateTier(nil), m.RateLimits.Tiers...)
	return clone
}

// CloneSettings returns a shallow copy of the settings slice.
func CloneSettings(settings []Setting) []Setting {
	if len(settings) == 0 {
		return nil
	}
	out := make([]Setting, len(settings))
	copy(out, settings)
	return out
}

// SortMetadata sorts the slice in-place by identifier.
func SortMetadata(meta []Metadata) {
	sort.Slice(meta, func(i, j int) bool { return meta[i].Identifier < meta[j].Identifier })
}
