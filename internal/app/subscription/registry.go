// Package subscription tracks the pairs a streaming connection is subscribed to and
// resolves inbound provider symbols back to pairs.
package subscription

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coachpo/pricebridge/internal/domain/pair"
)

// Strategy selects how inbound wire symbols are mapped back to pairs.
type Strategy int

const (
	// ReverseMap stores lower(wireSymbol) -> pair on every subscribe.
	ReverseMap Strategy = iota
	// Decode parses the wire symbol with the codec and keeps no reverse state.
	Decode
)

func (s Strategy) String() string {
	switch s {
	case ReverseMap:
		return "reverse_map"
	case Decode:
		return "decode"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// UnknownSymbolPolicy controls what happens when an inbound symbol cannot be resolved.
type UnknownSymbolPolicy string

const (
	// UnknownSilent drops unknown symbols without logging.
	UnknownSilent UnknownSymbolPolicy = "silent"
	// UnknownWarn drops unknown symbols and logs a warning.
	UnknownWarn UnknownSymbolPolicy = "warn"
)

// WireRequest is the full-set snapshot produced on every subscription change.
type WireRequest struct {
	APIKey  string
	Symbols []string
}

// Options configure a Registry.
type Options struct {
	Encoder        pair.Encoder
	Strategy       Strategy
	UnknownSymbols UnknownSymbolPolicy
	Logger         zerolog.Logger
}

// Registry owns the subscription set of one streaming connection.
type Registry struct {
	mu       sync.Mutex
	encoder  pair.Encoder
	codec    pair.Codec
	strategy Strategy
	policy   UnknownSymbolPolicy
	logger   zerolog.Logger

	active  map[string]pair.Pair
	reverse map[string]pair.Pair

	credential    string
	credentialSet bool
}

// New constructs an empty registry. The Decode strategy requires an encoder that is also a pair.Codec.
func New(opts Options) (*Registry, error) {
	if opts.Encoder == nil {
		return nil, fmt.Errorf("subscription registry: encoder required")
	}
	r := &Registry{
		encoder:  opts.Encoder,
		strategy: opts.Strategy,
		policy:   opts.UnknownSymbols,
		logger:   opts.Logger,
		active:   make(map[string]pair.Pair),
		reverse:  make(map[string]pair.Pair),
	}
	if r.policy == "" {
		r.policy = UnknownSilent
	}
	switch opts.Strategy {
	case ReverseMap:
	case Decode:
		codec, ok := opts.Encoder.(pair.Codec)
		if !ok {
			return nil, fmt.Errorf("subscription registry: %T cannot decode symbols", opts.Encoder)
		}
		r.codec = codec
	default:
		return nil, fmt.Errorf("subscription registry: unknown strategy %s", opts.Strategy)
	}
	return r, nil
}

// BindCredential records the API key sent with subscription requests. The first
// call wins; later calls return the already-bound value.
func (r *Registry) BindCredential(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.credentialSet {
		r.credential = key
		r.credentialSet = true
	}
	return r.credential
}

// Credential returns the bound API key.
func (r *Registry) Credential() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credential
}

// Encode renders p with the registry's codec.
func (r *Registry) Encode(p pair.Pair) string {
	return r.encoder.Encode(p)
}

// Subscribe adds p to the set and returns the complete, sorted snapshot.
func (r *Registry) Subscribe(p pair.Pair) WireRequest {
	symbol := r.encoder.Encode(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[symbol] = p
	if r.strategy == ReverseMap {
		r.reverse[pair.ReverseKey(symbol)] = p
	}
	return r.snapshotLocked()
}

// Unsubscribe removes p from the set and returns the complete, sorted snapshot.
// Removing an absent pair leaves the set unchanged.
func (r *Registry) Unsubscribe(p pair.Pair) WireRequest {
	symbol := r.encoder.Encode(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, symbol)
	if r.strategy == ReverseMap {
		delete(r.reverse, pair.ReverseKey(symbol))
	}
	return r.snapshotLocked()
}

// Snapshot returns the current wire request without mutating the set.
func (r *Registry) Snapshot() WireRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() WireRequest {
	symbols := make([]string, 0, len(r.active))
	for symbol := range r.active {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return WireRequest{APIKey: r.credential, Symbols: symbols}
}

// Active returns the subscribed pairs ordered by wire symbol.
func (r *Registry) Active() []pair.Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	symbols := make([]string, 0, len(r.active))
	for symbol := range r.active {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	out := make([]pair.Pair, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, r.active[symbol])
	}
	return out
}

// Contains reports whether p is currently subscribed.
func (r *Registry) Contains(p pair.Pair) bool {
	symbol := r.encoder.Encode(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[symbol]
	return ok
}

// Len returns the number of subscribed pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Resolve maps an inbound wire symbol to the pair it was subscribed under.
func (r *Registry) Resolve(symbol string) (pair.Pair, bool) {
	switch r.strategy {
	case Decode:
		p, ok := r.codec.Decode(symbol)
		if !ok {
			r.unknown(symbol)
		}
		return p, ok
	default:
		r.mu.Lock()
		p, ok := r.reverse[pair.ReverseKey(symbol)]
		r.mu.Unlock()
		if !ok {
			r.unknown(symbol)
		}
		return p, ok
	}
}

func (r *Registry) unknown(symbol string) {
	if r.policy != UnknownWarn {
		return
	}
	r.logger.Warn().Str("symbol", symbol).Str("strategy", r.strategy.String()).Msg("dropping message for unknown symbol")
}

// Resolved pairs an inbound value with the pair its symbol resolved to.
type Resolved[T any] struct {
	Pair  pair.Pair
	Value T
}

// Entry is one keyed value of an inbound message.
type Entry[T any] struct {
	Symbol string
	Value  T
}

// DecodeEntries resolves each entry, skipping symbols that do not resolve. Order is preserved.
func DecodeEntries[T any](r *Registry, entries []Entry[T]) []Resolved[T] {
	out := make([]Resolved[T], 0, len(entries))
	for _, entry := range entries {
		p, ok := r.Resolve(entry.Symbol)
		if !ok {
			continue
		}
		out = append(out, Resolved[T]{Pair: p, Value: entry.Value})
	}
	return out
}

// SortedEntries flattens a symbol-keyed map into entries ordered by symbol.
func SortedEntries[T any](values map[string]T) []Entry[T] {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry[T], 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry[T]{Symbol: k, Value: values[k]})
	}
	return out
}
