// Package schema defines the request, response and result types exchanged with adapters.
package schema

import (
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/domain/pair"
)

// Result is the normalised outcome for one pair (or one parameter set) of a provider call.
// Exactly one of Value and Err is meaningful.
type Result struct {
	Pair         pair.Pair
	Params       map[string]string
	Value        float64
	Data         map[string]any
	Err          *errs.E
	ProviderTime time.Time
	ReceivedAt   time.Time
}

// OK reports whether the result carries a value.
func (r Result) OK() bool { return r.Err == nil }

// Identity returns the parameters that address this result in a cache.
func (r Result) Identity() map[string]string {
	if len(r.Params) > 0 {
		out := make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			out[k] = v
		}
		return out
	}
	if r.Pair.Valid() {
		return map[string]string{"base": r.Pair.Base, "quote": r.Pair.Quote}
	}
	return map[string]string{}
}

// IdentityString renders Identity as a stable k=v list.
func (r Result) IdentityString() string {
	id := r.Identity()
	keys := make([]string, 0, len(id))
	for k := range id {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.ToLower(k)+"="+strings.ToLower(id[k]))
	}
	return strings.Join(parts, ",")
}

// ErrorPayload is the serialised form of a per-result error.
type ErrorPayload struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

type resultWire struct {
	Pair         *pair.Pair        `json:"pair,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Value        *float64          `json:"result,omitempty"`
	Data         map[string]any    `json:"data,omitempty"`
	Error        *ErrorPayload     `json:"error,omitempty"`
	ProviderTime int64             `json:"providerIndicatedTimeUnixMs,omitempty"`
	ReceivedAt   int64             `json:"receivedTimeUnixMs,omitempty"`
}

// MarshalJSON encodes the result in the gateway response shape.
func (r Result) MarshalJSON() ([]byte, error) {
	wire := resultWire{Params: r.Params, Data: r.Data}
	if r.Pair.Valid() {
		p := r.Pair
		wire.Pair = &p
	}
	if r.Err != nil {
		wire.Error = &ErrorPayload{
			Name:       string(r.Err.Code),
			Message:    r.Err.Public(),
			StatusCode: errs.HTTPStatus(r.Err),
		}
	} else {
		v := r.Value
		wire.Value = &v
	}
	if !r.ProviderTime.IsZero() {
		wire.ProviderTime = r.ProviderTime.UnixMilli()
	}
	if !r.ReceivedAt.IsZero() {
		wire.ReceivedAt = r.ReceivedAt.UnixMilli()
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores a result previously produced by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var wire resultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Result{Params: wire.Params, Data: wire.Data}
	if wire.Pair != nil {
		out.Pair = *wire.Pair
	}
	if wire.Value != nil {
		out.Value = *wire.Value
	}
	if wire.Error != nil {
		out.Err = errs.New("", errs.Code(wire.Error.Name), errs.WithMessage(wire.Error.Message))
	}
	if wire.ProviderTime > 0 {
		out.ProviderTime = time.UnixMilli(wire.ProviderTime).UTC()
	}
	if wire.ReceivedAt > 0 {
		out.ReceivedAt = time.UnixMilli(wire.ReceivedAt).UTC()
	}
	*r = out
	return nil
}

// MissingData builds the per-pair error used when a provider response lacks a value.
func MissingData(adapter string, p pair.Pair, detail string) *errs.E {
	msg := "Data for " + p.String() + " is not found"
	if detail != "" {
		msg += ": " + detail
	}
	return errs.New(adapter, errs.CodeMissingData,
		errs.WithMessage(msg),
		errs.WithCanonicalCode(errs.CanonicalMissingData),
		errs.WithField("base", p.Base),
		errs.WithField("quote", p.Quote),
	)
}
