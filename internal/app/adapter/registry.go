package adapter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// Deps are the runtime collaborators handed to adapter factories.
type Deps struct {
	Doer   Doer
	Logger zerolog.Logger
	Meter  metric.Meter
	Clock  func() time.Time
	// UnknownSymbolWarn enables warnings for inbound symbols that resolve to no subscription.
	UnknownSymbolWarn bool
}

// Now returns the dependency clock's current time.
func (d Deps) Now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock()
}

// Factory constructs an adapter from resolved settings.
type Factory func(settings Settings, deps Deps) (*Adapter, error)

// Config selects settings and rate tier for one adapter instance.
type Config struct {
	Settings map[string]any
	Tier     string
	Env      EnvLookup
}

type registration struct {
	factory  Factory
	metadata Metadata
}

// Registry maintains adapter factories keyed by identifier.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register installs a factory with its metadata.
func (r *Registry) Register(meta Metadata, factory Factory) {
	if factory == nil {
		panic("adapter factory required")
	}
	key := normalizeName(meta.Identifier)
	if key == "" {
		panic("adapter identifier required")
	}
	r.mu.Lock()
	r.entries[key] = registration{factory: factory, metadata: meta.Clone()}
	r.mu.Unlock()
}

// Metadata returns the registered metadata for name.
func (r *Registry) Metadata(name string) (Metadata, bool) {
	r.mu.RLock()
	entry, ok := r.entries[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return Metadata{}, false
	}
	return entry.metadata.Clone(), true
}

// List returns the metadata of every registered adapter sorted by identifier.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.metadata.Clone())
	}
	r.mu.RUnlock()
	SortMetadata(out)
	return out
}

// Create resolves settings for name and instantiates the adapter.
func (r *Registry) Create(name string, cfg Config, deps Deps) (*Adapter, error) {
	r.mu.RLock()
	entry, ok := r.entries[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", name)
	}
	meta := entry.metadata
	settings, err := ResolveSettings(meta.Identifier, meta.SettingsSchema, cfg.Settings, cfg.Env, meta.Identifier)
	if err != nil {
		return nil, err
	}
	tier, hasTier := meta.RateLimits.Tier(cfg.Tier)
	if cfg.Tier != "" && !hasTier {
		return nil, fmt.Errorf("adapter %s: unknown rate limit tier %q", meta.Identifier, cfg.Tier)
	}
	instance, err := entry.factory(settings, deps)
	if err != nil {
		return nil, fmt.Errorf("instantiate adapter %s: %w", meta.Identifier, err)
	}
	if instance.Metadata.Identifier == "" {
		instance.Metadata = meta.Clone()
	}
	instance.Settings = settings
	instance.RateTier = tier
	if err := instance.Validate(); err != nil {
		return nil, err
	}
	return instance, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
