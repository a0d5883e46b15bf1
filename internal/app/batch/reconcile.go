package batch

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// Reconcile splits a provider payload into one result per pair, in order.
//
// Pairs are in provider orientation; the value for each is read at
// payload[resultPath][pair.Quote]. With invert set, a non-zero value v is
// reported as 1/v for the caller-orientation pair. A zero value is passed
// through un-inverted under the provider-orientation pair.
func Reconcile(adapter string, payload any, pairs []pair.Pair, invert bool, resultPath string, receivedAt time.Time) []schema.Result {
	results := make([]schema.Result, 0, len(pairs))
	for _, p := range pairs {
		path := []string{p.Quote}
		if resultPath != "" {
			path = []string{resultPath, p.Quote}
		}
		value, err := schema.NumberAt(payload, path...)
		if err != nil {
			target := p
			if invert {
				target = p.Inverse()
			}
			results = append(results, schema.Result{
				Pair:       target,
				Err:        schema.MissingData(adapter, target, err.Error()),
				ReceivedAt: receivedAt,
			})
			continue
		}
		if invert && value != 0 {
			results = append(results, schema.Result{
				Pair:       p.Inverse(),
				Value:      Invert(value),
				ReceivedAt: receivedAt,
			})
			continue
		}
		results = append(results, schema.Result{Pair: p, Value: value, ReceivedAt: receivedAt})
	}
	return results
}

// Reconcile applies the package-level Reconcile with the plan's pairs and inversion flag.
func (p Plan) Reconcile(adapter string, payload any, resultPath string, receivedAt time.Time) []schema.Result {
	return Reconcile(adapter, payload, p.Pairs, p.Invert, resultPath, receivedAt)
}

// float64 carries at most 17 significant decimal digits.
const invertSignificantDigits = 17

// Invert returns 1/v computed in decimal arithmetic. v must be non-zero.
// The quotient keeps full float64 precision whatever the magnitude of v.
func Invert(v float64) float64 {
	scale := int32(invertSignificantDigits)
	if mag := math.Abs(v); mag > 1 {
		scale += int32(math.Ceil(math.Log10(mag)))
	}
	out, _ := decimal.NewFromInt(1).DivRound(decimal.NewFromFloat(v), scale).Float64()
	return out
}
