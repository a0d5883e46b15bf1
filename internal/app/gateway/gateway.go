// Package gateway routes adapter requests to provider transports and shapes their responses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/infra/cache"
	"github.com/coachpo/pricebridge/internal/infra/config"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
)

// Status represents the lifecycle state of a configured adapter.
type Status string

const (
	// StatusStarting indicates the adapter is being instantiated.
	StatusStarting Status = "starting"
	// StatusRunning indicates the adapter serves requests.
	StatusRunning Status = "running"
	// StatusFailed indicates the adapter could not be instantiated.
	StatusFailed Status = "failed"
	// StatusDisabled indicates the adapter is configured but switched off.
	StatusDisabled Status = "disabled"
	// StatusStopped indicates the gateway has shut the adapter down.
	StatusStopped Status = "stopped"
)

var (
	// ErrAdapterNotFound indicates that no adapter is configured under the requested name.
	ErrAdapterNotFound = errors.New("adapter not found")
	// ErrAdapterRequired indicates that several adapters run and the request named none.
	ErrAdapterRequired = errors.New("adapter name required")
)

// Stream is a running subscription transport for one stream endpoint.
type Stream interface {
	Start(ctx context.Context)
	Subscribe(ctx context.Context, p pair.Pair) error
	Stop()
}

// StreamFactory builds the transport for a stream endpoint of adapterName.
type StreamFactory func(adapterName string, ep adapter.Endpoint) (Stream, error)

// RateTierSetter is implemented by doers that enforce per-adapter rate tiers.
type RateTierSetter interface {
	SetRateTier(adapterName string, tier adapter.RateTier)
}

// Options configures a Gateway.
type Options struct {
	Registry *adapter.Registry
	Doer     adapter.Doer
	// Store serves stream endpoints from values pushed by their transports.
	Store cache.Store
	// Sink receives every result produced by batch and direct endpoints. Defaults to Store.
	Sink         cache.Sink
	CacheBackend string
	Streams      StreamFactory
	Env          adapter.EnvLookup
	// UnknownSymbolWarn is handed to adapters so stream handlers log unmatched symbols.
	UnknownSymbolWarn bool
	Logger            zerolog.Logger
	Meter             metric.Meter
	Instruments       *telemetry.Instruments
	Clock             func() time.Time
	NewID             func() string
}

// AdapterInfo is the runtime view of a configured adapter.
type AdapterInfo struct {
	Name     string           `json:"name"`
	Status   Status           `json:"status"`
	Error    string           `json:"error,omitempty"`
	RateTier string           `json:"rateTier,omitempty"`
	Settings map[string]any   `json:"settings,omitempty"`
	Metadata adapter.Metadata `json:"metadata"`
}

type adapterState struct {
	name     string
	status   Status
	err      error
	instance *adapter.Adapter
	streams  map[string]Stream
}

// Gateway owns the adapter instances materialised from configuration.
type Gateway struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	states map[string]*adapterState

	lifecycleCtx context.Context
}

// New builds an idle gateway. Adapters are instantiated by Start.
func New(opts Options) (*Gateway, error) {
	if opts.Registry == nil {
		return nil, errors.New("gateway: adapter registry required")
	}
	if opts.Store == nil {
		return nil, errors.New("gateway: result store required")
	}
	if opts.Sink == nil {
		opts.Sink = opts.Store
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.CacheBackend == "" {
		opts.CacheBackend = string(config.CacheMemory)
	}
	return &Gateway{
		opts:         opts,
		logger:       opts.Logger.With().Str("component", "gateway").Logger(),
		states:       make(map[string]*adapterState),
		lifecycleCtx: context.Background(),
	}, nil
}

// Start instantiates every enabled adapter concurrently. Failing adapters are
// recorded as failed and reported in the joined error; the others keep running.
func (g *Gateway) Start(ctx context.Context, adapters map[string]config.AdapterConfig) error {
	g.mu.Lock()
	g.lifecycleCtx = ctx
	g.mu.Unlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	p := pool.New().WithContext(ctx)
	for _, name := range names {
		cfg := adapters[name]
		key := normalizeName(name)
		if !cfg.IsEnabled() {
			g.setState(&adapterState{name: key, status: StatusDisabled})
			continue
		}
		g.setState(&adapterState{name: key, status: StatusStarting})
		p.Go(func(ctx context.Context) error {
			return g.boot(ctx, key, cfg)
		})
	}
	return p.Wait()
}

func (g *Gateway) boot(ctx context.Context, name string, cfg config.AdapterConfig) error {
	deps := adapter.Deps{
		Doer:              g.opts.Doer,
		Logger:            g.opts.Logger.With().Str("adapter", name).Logger(),
		Meter:             g.opts.Meter,
		Clock:             g.opts.Clock,
		UnknownSymbolWarn: g.opts.UnknownSymbolWarn,
	}
	instance, err := g.opts.Registry.Create(name, adapter.Config{
		Settings: cfg.Settings,
		Tier:     cfg.Tier,
		Env:      g.opts.Env,
	}, deps)
	if err != nil {
		return g.fail(name, err)
	}
	if setter, ok := g.opts.Doer.(RateTierSetter); ok {
		setter.SetRateTier(name, instance.RateTier)
	}

	streams := make(map[string]Stream)
	for _, ep := range instance.Endpoints {
		if ep.Kind() != adapter.KindStream {
			continue
		}
		if g.opts.Streams == nil {
			stopStreams(streams)
			return g.fail(name, fmt.Errorf("endpoint %s needs a stream transport", ep.Name))
		}
		stream, err := g.opts.Streams(name, ep)
		if err != nil {
			stopStreams(streams)
			return g.fail(name, fmt.Errorf("endpoint %s: %w", ep.Name, err))
		}
		streams[strings.ToLower(ep.Name)] = stream
	}
	if err := ctx.Err(); err != nil {
		stopStreams(streams)
		return g.fail(name, err)
	}

	g.mu.RLock()
	lifecycle := g.lifecycleCtx
	g.mu.RUnlock()
	for _, stream := range streams {
		stream.Start(lifecycle)
	}

	g.setState(&adapterState{name: name, status: StatusRunning, instance: instance, streams: streams})
	g.logger.Info().
		Str("adapter", name).
		Str("rate_tier", instance.RateTier.Name).
		Int("endpoints", len(instance.Endpoints)).
		Interface("settings", instance.Settings.Redacted()).
		Msg("adapter started")
	return nil
}

func (g *Gateway) fail(name string, err error) error {
	g.setState(&adapterState{name: name, status: StatusFailed, err: err})
	g.logger.Error().Err(err).Str("adapter", name).Msg("adapter failed to start")
	return fmt.Errorf("adapter %s: %w", name, err)
}

func (g *Gateway) setState(state *adapterState) {
	g.mu.Lock()
	g.states[state.name] = state
	g.mu.Unlock()
}

// Stop shuts down every stream transport.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	states := make([]*adapterState, 0, len(g.states))
	for _, state := range g.states {
		states = append(states, state)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, state := range states {
			stopStreams(state.streams)
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop gateway: %w", ctx.Err())
	}

	g.mu.Lock()
	for _, state := range states {
		if state.status == StatusRunning {
			state.status = StatusStopped
		}
	}
	g.mu.Unlock()
	return nil
}

func stopStreams(streams map[string]Stream) {
	for _, stream := range streams {
		stream.Stop()
	}
}

// Adapters lists the runtime state of every configured adapter, sorted by name.
func (g *Gateway) Adapters() []AdapterInfo {
	g.mu.RLock()
	names := make([]string, 0, len(g.states))
	for name := range g.states {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)

	out := make([]AdapterInfo, 0, len(names))
	for _, name := range names {
		if info, ok := g.Adapter(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// Adapter returns the runtime state of name.
func (g *Gateway) Adapter(name string) (AdapterInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	state, ok := g.states[normalizeName(name)]
	if !ok {
		return AdapterInfo{}, false
	}
	info := AdapterInfo{Name: state.name, Status: state.status}
	if state.err != nil {
		info.Error = state.err.Error()
	}
	if state.instance != nil {
		info.Metadata = state.instance.Describe()
		info.RateTier = state.instance.RateTier.Name
		info.Settings = state.instance.Settings.Redacted()
	} else if meta, ok := g.opts.Registry.Metadata(state.name); ok {
		info.Metadata = meta
	}
	return info, true
}

func (g *Gateway) resolve(name string) (*adapterState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	key := normalizeName(name)
	if key == "" {
		var only *adapterState
		for _, state := range g.states {
			if state.status != StatusRunning {
				continue
			}
			if only != nil {
				return nil, errs.Invalid("", ErrAdapterRequired.Error(), errs.WithCause(ErrAdapterRequired))
			}
			only = state
		}
		if only == nil {
			return nil, errs.New("", errs.CodeUnavailable, errs.WithMessage("no adapter is running"))
		}
		return only, nil
	}

	state, ok := g.states[key]
	if !ok {
		return nil, errs.New(key, errs.CodeNotFound,
			errs.WithMessage(fmt.Sprintf("adapter %q not configured", key)),
			errs.WithCause(ErrAdapterNotFound))
	}
	if state.status != StatusRunning {
		msg := fmt.Sprintf("adapter %s is %s", key, state.status)
		if state.err != nil {
			msg += ": " + state.err.Error()
		}
		return nil, errs.New(key, errs.CodeUnavailable, errs.WithMessage(msg))
	}
	return state, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
