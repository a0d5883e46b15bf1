package batch

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

func TestExpandQuoteList(t *testing.T) {
	plan, err := Expand("metalsapi", Request{Base: schema.Single("XAU"), Quote: schema.List("USD", "EUR")})
	require.NoError(t, err)
	require.True(t, plan.Batched)
	require.False(t, plan.Invert)
	require.Equal(t, map[string]string{"base": "XAU", "symbols": "USD,EUR"}, plan.Params())
	require.Equal(t, []pair.Pair{{Base: "XAU", Quote: "USD"}, {Base: "XAU", Quote: "EUR"}}, plan.Pairs)
	require.Equal(t, plan.Pairs, plan.Requested)
}

func TestExpandBaseListInverts(t *testing.T) {
	plan, err := Expand("metalsapi", Request{Base: schema.List("XAU", "XAG"), Quote: schema.Single("USD")})
	require.NoError(t, err)
	require.True(t, plan.Invert)
	require.Equal(t, map[string]string{"base": "USD", "symbols": "XAU,XAG"}, plan.Params())
	require.Equal(t, []pair.Pair{{Base: "USD", Quote: "XAU"}, {Base: "USD", Quote: "XAG"}}, plan.Pairs)
	require.Equal(t, []pair.Pair{{Base: "XAU", Quote: "USD"}, {Base: "XAG", Quote: "USD"}}, plan.Requested)
}

func TestExpandBothListsRejected(t *testing.T) {
	_, err := Expand("metalsapi", Request{Base: schema.List("XAU"), Quote: schema.List("USD")})
	require.Error(t, err)
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeInvalid, e.Code)
	require.Equal(t, errs.CanonicalAmbiguousBatch, e.Canonical)
}

func TestExpandScalarPassThrough(t *testing.T) {
	plan, err := Expand("metalsapi", Request{Base: schema.Single("XAU"), Quote: schema.Single("USD")})
	require.NoError(t, err)
	require.False(t, plan.Batched)
	require.Equal(t, map[string]string{"base": "XAU", "symbols": "USD"}, plan.Params())
	require.Equal(t, []pair.Pair{{Base: "XAU", Quote: "USD"}}, plan.Requested)
}

func TestExpandRejectsEmptyInput(t *testing.T) {
	cases := []Request{
		{Quote: schema.Single("USD")},
		{Base: schema.Single("XAU")},
		{Base: schema.Single(" "), Quote: schema.Single("USD")},
		{Base: schema.List(), Quote: schema.Single("USD")},
		{Base: schema.Single("XAU"), Quote: schema.List("USD", "")},
	}
	for i, tc := range cases {
		_, err := Expand("metalsapi", tc)
		require.True(t, errs.HasCode(err, errs.CodeInvalid), "case %d: %v", i, err)
	}
}

func TestReconcileInvertsBaseList(t *testing.T) {
	payload := map[string]any{"rates": map[string]any{"XAU": 0.04, "XAG": 43103.448275862}}
	plan, err := Expand("metalsapi", Request{Base: schema.List("XAU", "XAG"), Quote: schema.Single("USD")})
	require.NoError(t, err)

	results := plan.Reconcile("metalsapi", payload, "rates", time.Time{})
	require.Len(t, results, 2)

	require.True(t, results[0].OK())
	require.Equal(t, pair.Pair{Base: "XAU", Quote: "USD"}, results[0].Pair)
	require.InDelta(t, 25.0, results[0].Value, 1e-12)

	require.True(t, results[1].OK())
	require.Equal(t, pair.Pair{Base: "XAG", Quote: "USD"}, results[1].Pair)
	require.InDelta(t, 0.0000232, results[1].Value, 1e-12)
}

func TestReconcileZeroPassesThroughUninverted(t *testing.T) {
	payload := map[string]any{"rates": map[string]any{"XAU": 0.0}}
	results := Reconcile("metalsapi", payload, []pair.Pair{{Base: "USD", Quote: "XAU"}}, true, "rates", time.Time{})
	require.Len(t, results, 1)
	require.True(t, results[0].OK())
	require.Equal(t, 0.0, results[0].Value)
	require.Equal(t, pair.Pair{Base: "USD", Quote: "XAU"}, results[0].Pair)
}

func TestReconcileIsolatesMissingPairs(t *testing.T) {
	payload := map[string]any{"rates": map[string]any{"USD": 1900.5, "GBP": "NaN", "JPY": "abc"}}
	pairs := []pair.Pair{
		{Base: "XAU", Quote: "USD"},
		{Base: "XAU", Quote: "EUR"},
		{Base: "XAU", Quote: "GBP"},
		{Base: "XAU", Quote: "JPY"},
	}
	results := Reconcile("metalsapi", payload, pairs, false, "rates", time.Time{})
	require.Len(t, results, 4)
	require.True(t, results[0].OK())
	require.Equal(t, 1900.5, results[0].Value)
	for _, r := range results[1:] {
		require.False(t, r.OK())
		require.Equal(t, errs.CodeMissingData, r.Err.Code)
		require.Contains(t, r.Err.Message, r.Pair.String())
	}
}

func TestReconcileMissingInvertedPairNamesCallerPair(t *testing.T) {
	results := Reconcile("metalsapi", map[string]any{"rates": map[string]any{}}, []pair.Pair{{Base: "USD", Quote: "XAU"}}, true, "rates", time.Time{})
	require.Len(t, results, 1)
	require.Equal(t, pair.Pair{Base: "XAU", Quote: "USD"}, results[0].Pair)
	require.Contains(t, results[0].Err.Message, "XAU/USD")
}

func TestReconcilePreservesOrderWithoutResultPath(t *testing.T) {
	payload := map[string]any{"B": 2.0, "A": 1.0}
	pairs := []pair.Pair{{Base: "X", Quote: "B"}, {Base: "X", Quote: "A"}}
	results := Reconcile("x", payload, pairs, false, "", time.Time{})
	require.Equal(t, 2.0, results[0].Value)
	require.Equal(t, 1.0, results[1].Value)
}

func TestInvert(t *testing.T) {
	require.Equal(t, 25.0, Invert(0.04))
	require.False(t, math.IsInf(Invert(1e-12), 0))
	for _, v := range []float64{42968, 3.7e9, 1e17, 1e20, 123456789.123, 1e-9} {
		require.InEpsilon(t, 1.0/v, Invert(v), 1e-15, "v=%v", v)
	}
}

func TestReconcileInvertKeepsPrecision(t *testing.T) {
	payload := map[string]any{"rates": map[string]any{"XAU": 0.04, "GBP": 42968.0, "SHIB": 3.7e9}}
	plan, err := Expand("metalsapi", Request{Base: schema.List("XAU", "GBP", "SHIB"), Quote: schema.Single("BTC")})
	require.NoError(t, err)

	results := plan.Reconcile("metalsapi", payload, "rates", time.Time{})
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.OK(), r.Pair.String())
	}
	require.Equal(t, 25.0, results[0].Value)
	require.Equal(t, pair.Pair{Base: "GBP", Quote: "BTC"}, results[1].Pair)
	require.InEpsilon(t, 1.0/42968, results[1].Value, 1e-12)
	require.Equal(t, pair.Pair{Base: "SHIB", Quote: "BTC"}, results[2].Pair)
	require.InEpsilon(t, 1.0/3.7e9, results[2].Value, 1e-12)
}
