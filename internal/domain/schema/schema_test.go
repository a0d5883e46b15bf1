package schema

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/domain/pair"
)

func TestSymbolsAcceptsScalarAndList(t *testing.T) {
	var payload struct {
		Base  Symbols `json:"base"`
		Quote Symbols `json:"quote"`
		Empty Symbols `json:"empty"`
	}
	err := json.Unmarshal([]byte(`{"base":["XAU","XAG"],"quote":"USD"}`), &payload)
	require.NoError(t, err)

	require.True(t, payload.Base.IsList())
	require.Equal(t, []string{"XAU", "XAG"}, payload.Base.Values())
	require.False(t, payload.Quote.IsList())
	require.Equal(t, "USD", payload.Quote.First())
	require.True(t, payload.Empty.IsZero())
}

func TestSymbolsFromDecodedValues(t *testing.T) {
	s, err := SymbolsFrom([]any{"EUR", 1.0})
	require.NoError(t, err)
	require.Equal(t, []string{"EUR", "1"}, s.Values())

	_, err = SymbolsFrom(map[string]any{"x": 1})
	require.Error(t, err)
}

func TestResultMarshalCarriesErrorOrValue(t *testing.T) {
	p := pair.Pair{Base: "XAU", Quote: "USD"}
	failed := Result{Pair: p, Err: MissingData("metalsapi", p, "")}
	raw, err := json.Marshal(failed)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"name":"missing_data"`)
	require.Contains(t, string(raw), `Data for XAU/USD is not found`)
	require.NotContains(t, string(raw), `"result"`)

	ok := Result{Pair: p, Value: 1900.5, ReceivedAt: time.UnixMilli(1700000000000)}
	raw, err = json.Marshal(ok)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.True(t, decoded.OK())
	require.Equal(t, 1900.5, decoded.Value)
	require.Equal(t, p, decoded.Pair)
	require.Equal(t, int64(1700000000000), decoded.ReceivedAt.UnixMilli())
}

func TestResultIdentityFallsBackToPair(t *testing.T) {
	r := Result{Pair: pair.Pair{Base: "ETH", Quote: "USD"}}
	require.Equal(t, "base=eth,quote=usd", r.IdentityString())

	r = Result{Params: map[string]string{"market": "BTC"}}
	require.Equal(t, "market=btc", r.IdentityString())
}

func TestMissingDataNamesPair(t *testing.T) {
	e := MissingData("coinpaprika", pair.Pair{Base: "BTC", Quote: "USD"}, "zero value")
	require.Equal(t, errs.CodeMissingData, e.Code)
	require.Equal(t, "BTC", e.Fields["base"])
	require.Contains(t, e.Message, "BTC/USD")
}

func TestDecodeRequestDefaultsData(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"id":"1"}`))
	require.NoError(t, err)
	require.NotNil(t, req.Data)

	req, err = DecodeRequest([]byte(`{"id":"2","data":{"endpoint":" Latest ","adapter":"MetalsAPI"}}`))
	require.NoError(t, err)
	require.Equal(t, "latest", req.Endpoint())
	require.Equal(t, "metalsapi", req.Adapter())
}

func TestTimeAt(t *testing.T) {
	payload := map[string]any{
		"seconds": float64(1700000000),
		"millis":  "1700000000123",
		"rfc":     "2024-01-02T03:04:05Z",
		"info":    map[string]any{"timestamp": float64(1700000000.5)},
		"zero":    float64(0),
		"junk":    "soon",
	}
	got, ok := TimeAt(payload, "seconds")
	require.True(t, ok)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), got)

	got, ok = TimeAt(payload, "millis")
	require.True(t, ok)
	require.Equal(t, time.UnixMilli(1700000000123).UTC(), got)

	got, ok = TimeAt(payload, "rfc")
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, ok = TimeAt(payload, "INFO", "timestamp")
	require.True(t, ok)
	require.Equal(t, time.Unix(1700000000, 500_000_000).UTC(), got)

	for _, key := range []string{"zero", "junk", "missing"} {
		_, ok = TimeAt(payload, key)
		require.False(t, ok, key)
	}
}
