// Package pair defines the canonical base/quote pair and the codecs that map it onto provider wire symbols.
package pair

import (
	"strings"
)

// Pair is an ordered base/quote asset pair such as ETH/USD.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// New trims both legs and returns the pair.
func New(base, quote string) Pair {
	return Pair{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
}

// Inverse swaps base and quote.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// Valid reports whether both legs are non-empty.
func (p Pair) Valid() bool {
	return strings.TrimSpace(p.Base) != "" && strings.TrimSpace(p.Quote) != ""
}

// Upper returns the pair with both legs upper-cased.
func (p Pair) Upper() Pair {
	return Pair{Base: strings.ToUpper(p.Base), Quote: strings.ToUpper(p.Quote)}
}

// Equal compares two pairs case-insensitively.
func (p Pair) Equal(other Pair) bool {
	return strings.EqualFold(p.Base, other.Base) && strings.EqualFold(p.Quote, other.Quote)
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Encoder renders a pair as the provider's wire symbol.
type Encoder interface {
	Encode(p Pair) string
}

// Codec is an Encoder whose wire symbols can be parsed back without external state.
type Codec interface {
	Encoder
	Decode(symbol string) (Pair, bool)
}

// SlashCodec encodes pairs as BASE/QUOTE.
type SlashCodec struct{}

var _ Codec = SlashCodec{}

// Encode upper-cases both legs and joins them with a slash.
func (SlashCodec) Encode(p Pair) string {
	return strings.ToUpper(p.Base) + "/" + strings.ToUpper(p.Quote)
}

// Decode splits symbol on the slash; anything but two non-empty segments is rejected.
func (SlashCodec) Decode(symbol string) (Pair, bool) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return Pair{}, false
	}
	base, quote := parts[0], parts[1]
	if base == "" || quote == "" {
		return Pair{}, false
	}
	return Pair{Base: base, Quote: quote}, true
}

// ConcatCodec encodes pairs as BASEQUOTE. The concatenation is not reversible
// in general, so it only satisfies Encoder.
type ConcatCodec struct{}

var _ Encoder = ConcatCodec{}

// Encode upper-cases the concatenated legs.
func (ConcatCodec) Encode(p Pair) string {
	return strings.ToUpper(p.Base + p.Quote)
}

// ReverseKey returns the lookup key the subscription index stores for a wire symbol.
func ReverseKey(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}
