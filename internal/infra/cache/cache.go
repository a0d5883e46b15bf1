// Package cache stores reconciled provider results for serving and fans them out to archives.
package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// Entry is a result addressed by its cache key.
type Entry struct {
	Key    string
	Result schema.Result
}

// Sink receives reconciled results.
type Sink interface {
	Put(ctx context.Context, entries []Entry) error
}

// Store is a Sink that can also serve results back.
type Store interface {
	Sink
	Get(ctx context.Context, key string) (schema.Result, bool, error)
}

// Key builds the deterministic cache key for a result of adapter/endpoint.
func Key(adapter, endpoint string, r schema.Result) string {
	return strings.ToLower(strings.TrimSpace(adapter)) + "|" +
		strings.ToLower(strings.TrimSpace(endpoint)) + "|" +
		r.IdentityString()
}

// Entries keys every result under adapter/endpoint.
func Entries(adapter, endpoint string, results []schema.Result) []Entry {
	out := make([]Entry, 0, len(results))
	for _, r := range results {
		out = append(out, Entry{Key: Key(adapter, endpoint, r), Result: r})
	}
	return out
}

type tee []Sink

// Tee returns a Sink that writes to every non-nil sink and joins their errors.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t tee) Put(ctx context.Context, entries []Entry) error {
	var errsOut []error
	for _, s := range t {
		if err := s.Put(ctx, entries); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errors.Join(errsOut...)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, entries []Entry) error

// Put calls f.
func (f SinkFunc) Put(ctx context.Context, entries []Entry) error {
	return f(ctx, entries)
}
