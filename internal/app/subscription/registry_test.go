package subscription

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/internal/domain/pair"
)

func newSlashRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(Options{Encoder: pair.SlashCodec{}, Strategy: Decode})
	require.NoError(t, err)
	return reg
}

func TestSubscribeChainProducesFullSortedSnapshots(t *testing.T) {
	reg := newSlashRegistry(t)
	reg.BindCredential("fake-api-key")

	a := pair.Pair{Base: "A", Quote: "USD"}
	b := pair.Pair{Base: "B", Quote: "USD"}
	c := pair.Pair{Base: "C", Quote: "USD"}
	d := pair.Pair{Base: "D", Quote: "USD"}

	steps := []struct {
		sub  bool
		p    pair.Pair
		want []string
	}{
		{true, a, []string{"A/USD"}},
		{true, b, []string{"A/USD", "B/USD"}},
		{true, c, []string{"A/USD", "B/USD", "C/USD"}},
		{false, a, []string{"B/USD", "C/USD"}},
		{false, b, []string{"C/USD"}},
		{false, c, []string{}},
		{true, a, []string{"A/USD"}},
		{true, d, []string{"A/USD", "D/USD"}},
		{false, d, []string{"A/USD"}},
		{false, a, []string{}},
	}
	for i, step := range steps {
		var req WireRequest
		if step.sub {
			req = reg.Subscribe(step.p)
		} else {
			req = reg.Unsubscribe(step.p)
		}
		require.Equal(t, "fake-api-key", req.APIKey, "step %d", i)
		require.Equal(t, step.want, req.Symbols, "step %d", i)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	reg := newSlashRegistry(t)
	a := pair.Pair{Base: "A", Quote: "USD"}
	reg.Subscribe(a)
	req := reg.Subscribe(a)
	require.Equal(t, []string{"A/USD"}, req.Symbols)
	require.Equal(t, 1, reg.Len())
}

func TestUnsubscribeAbsentLeavesSetUnchanged(t *testing.T) {
	reg := newSlashRegistry(t)
	reg.Subscribe(pair.Pair{Base: "A", Quote: "USD"})
	req := reg.Unsubscribe(pair.Pair{Base: "Z", Quote: "USD"})
	require.Equal(t, []string{"A/USD"}, req.Symbols)
}

func TestSubscribeUnsubscribeLeavesRemainder(t *testing.T) {
	reg := newSlashRegistry(t)
	a := pair.Pair{Base: "A", Quote: "USD"}
	b := pair.Pair{Base: "B", Quote: "USD"}
	reg.Subscribe(a)
	reg.Subscribe(b)
	req := reg.Unsubscribe(a)
	require.Equal(t, []string{"B/USD"}, req.Symbols)
	require.Equal(t, []pair.Pair{b}, reg.Active())
}

func TestBindCredentialFirstCallWins(t *testing.T) {
	reg := newSlashRegistry(t)
	require.Equal(t, "first", reg.BindCredential("first"))
	require.Equal(t, "first", reg.BindCredential("second"))
	require.Equal(t, "first", reg.Credential())
}

func TestReverseMapResolvesCaseInsensitively(t *testing.T) {
	reg, err := New(Options{Encoder: pair.ConcatCodec{}, Strategy: ReverseMap})
	require.NoError(t, err)

	eur := pair.Pair{Base: "eur", Quote: "usd"}
	reg.Subscribe(eur)

	got, ok := reg.Resolve("EURUSD")
	require.True(t, ok)
	require.Equal(t, eur, got)

	_, ok = reg.Resolve("GBPUSD")
	require.False(t, ok)

	reg.Unsubscribe(eur)
	_, ok = reg.Resolve("EURUSD")
	require.False(t, ok)
}

func TestDecodeStrategyRequiresCodec(t *testing.T) {
	_, err := New(Options{Encoder: pair.ConcatCodec{}, Strategy: Decode})
	require.Error(t, err)

	_, err = New(Options{Strategy: Decode})
	require.Error(t, err)
}

func TestDecodeEntriesSkipsUnknownAndWarns(t *testing.T) {
	var buf bytes.Buffer
	reg, err := New(Options{
		Encoder:        pair.SlashCodec{},
		Strategy:       Decode,
		UnknownSymbols: UnknownWarn,
		Logger:         zerolog.New(&buf),
	})
	require.NoError(t, err)

	entries := SortedEntries(map[string]float64{
		"AAPL/USD": 379.64,
		"BROKEN":   1,
		"MSFT/USD": 250.1,
	})
	resolved := DecodeEntries(reg, entries)
	require.Len(t, resolved, 2)
	require.Equal(t, pair.Pair{Base: "AAPL", Quote: "USD"}, resolved[0].Pair)
	require.Equal(t, 379.64, resolved[0].Value)
	require.Equal(t, pair.Pair{Base: "MSFT", Quote: "USD"}, resolved[1].Pair)
	require.True(t, strings.Contains(buf.String(), "BROKEN"), "expected warning for unknown symbol, got %s", buf.String())
}

func TestUnknownSymbolsSilentByDefault(t *testing.T) {
	var buf bytes.Buffer
	reg, err := New(Options{Encoder: pair.SlashCodec{}, Strategy: Decode, Logger: zerolog.New(&buf)})
	require.NoError(t, err)
	_, ok := reg.Resolve("nope")
	require.False(t, ok)
	require.Empty(t, buf.String())
}

func TestConcurrentSubscribeAndResolve(t *testing.T) {
	reg, err := New(Options{Encoder: pair.ConcatCodec{}, Strategy: ReverseMap})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Subscribe(pair.Pair{Base: "EUR", Quote: "USD"})
		}()
		go func() {
			defer wg.Done()
			reg.Resolve("eurusd")
		}()
	}
	wg.Wait()
	require.Equal(t, 1, reg.Len())
}
