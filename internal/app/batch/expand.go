// Package batch turns one-to-many pair requests into a single provider call and
// splits the provider answer back into per-pair results.
package batch

import (
	"strings"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// Request carries the caller's base and quote, each a scalar or a list.
type Request struct {
	Base  schema.Symbols
	Quote schema.Symbols
}

// Plan is the provider-facing shape of a Request. Providers that batch accept a
// single base and a list of symbols, so a list on base is swapped onto symbols
// and the answer inverted afterwards.
type Plan struct {
	Batched bool
	Invert  bool
	Base    string
	Symbols []string
	// Pairs are in provider orientation (Base, symbol), in input order.
	Pairs []pair.Pair
	// Requested are in caller orientation, in input order.
	Requested []pair.Pair
}

// Params returns the provider query parameters for the plan.
func (p Plan) Params() map[string]string {
	return map[string]string{
		"base":    p.Base,
		"symbols": strings.Join(p.Symbols, ","),
	}
}

// Expand validates req and builds the provider plan.
func Expand(adapter string, req Request) (Plan, error) {
	if req.Base.IsZero() {
		return Plan{}, errs.Invalid(adapter, "base is required")
	}
	if req.Quote.IsZero() {
		return Plan{}, errs.Invalid(adapter, "quote is required")
	}
	if req.Base.IsList() && req.Quote.IsList() {
		return Plan{}, errs.Invalid(adapter, "base and quote cannot both be lists",
			errs.WithCanonicalCode(errs.CanonicalAmbiguousBatch))
	}

	switch {
	case req.Base.IsList():
		bases, err := cleanList(adapter, "base", req.Base.Values())
		if err != nil {
			return Plan{}, err
		}
		quote, err := cleanScalar(adapter, "quote", req.Quote.First())
		if err != nil {
			return Plan{}, err
		}
		plan := Plan{Batched: true, Invert: true, Base: quote, Symbols: bases}
		for _, b := range bases {
			plan.Pairs = append(plan.Pairs, pair.Pair{Base: quote, Quote: b})
			plan.Requested = append(plan.Requested, pair.Pair{Base: b, Quote: quote})
		}
		return plan, nil
	case req.Quote.IsList():
		quotes, err := cleanList(adapter, "quote", req.Quote.Values())
		if err != nil {
			return Plan{}, err
		}
		base, err := cleanScalar(adapter, "base", req.Base.First())
		if err != nil {
			return Plan{}, err
		}
		plan := Plan{Batched: true, Invert: false, Base: base, Symbols: quotes}
		for _, q := range quotes {
			p := pair.Pair{Base: base, Quote: q}
			plan.Pairs = append(plan.Pairs, p)
			plan.Requested = append(plan.Requested, p)
		}
		return plan, nil
	default:
		base, err := cleanScalar(adapter, "base", req.Base.First())
		if err != nil {
			return Plan{}, err
		}
		quote, err := cleanScalar(adapter, "quote", req.Quote.First())
		if err != nil {
			return Plan{}, err
		}
		p := pair.Pair{Base: base, Quote: quote}
		return Plan{Batched: false, Base: base, Symbols: []string{quote}, Pairs: []pair.Pair{p}, Requested: []pair.Pair{p}}, nil
	}
}

func cleanScalar(adapter, field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errs.Invalid(adapter, field+" must not be empty")
	}
	return trimmed, nil
}

func cleanList(adapter, field string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, errs.Invalid(adapter, field+" list must not be empty")
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, errs.Invalid(adapter, field+" list contains an empty symbol")
		}
		out = append(out, trimmed)
	}
	return out, nil
}
