package metalsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
	"github.com/coachpo/pricebridge/internal/infra/transport/rest"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*adapter.Adapter, *rest.Executor) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	reg := adapter.NewRegistry()
	RegisterFactory(reg)
	inst, err := reg.Create(Name, adapter.Config{Settings: map[string]any{
		settingAPIEndpoint: srv.URL + "/api/",
		settingAPIKey:      "metals-key",
	}}, adapter.Deps{})
	require.NoError(t, err)
	return inst, rest.New(rest.Options{})
}

func run(t *testing.T, inst *adapter.Adapter, doer adapter.Doer, endpoint string, params adapter.Params) ([]schema.Result, error) {
	t.Helper()
	ep, err := inst.Endpoint(endpoint)
	require.NoError(t, err)
	prepared, err := ep.Batch.Prepare(params)
	if err != nil {
		return nil, err
	}
	resp, err := doer.Do(context.Background(), Name, prepared.Request)
	if err != nil {
		return nil, err
	}
	return ep.Batch.Parse(prepared, resp)
}

func TestLatestQuoteList(t *testing.T) {
	inst, doer := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/latest", r.URL.Path)
		require.Equal(t, "USD", r.URL.Query().Get("base"))
		require.Equal(t, "XAU,XAG,XPT", r.URL.Query().Get("symbols"))
		require.Equal(t, "metals-key", r.URL.Query().Get("access_key"))
		require.Equal(t, "metals-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"success":true,"timestamp":1709294400,"base":"USD","rates":{"XAU":0.0005,"XAG":0.04}}`))
	})
	results, err := run(t, inst, doer, "latest", adapter.Params{
		"base":  schema.Single("USD"),
		"quote": schema.List("XAU", "XAG", "XPT"),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, pair.Pair{Base: "USD", Quote: "XAU"}, results[0].Pair)
	require.InDelta(t, 0.0005, results[0].Value, 1e-12)
	require.Equal(t, time.Unix(1709294400, 0).UTC(), results[0].ProviderTime)
	require.Equal(t, pair.Pair{Base: "USD", Quote: "XAG"}, results[1].Pair)
	require.True(t, errs.HasCode(results[2].Err, errs.CodeMissingData))
}

func TestLatestBaseListIsInverted(t *testing.T) {
	inst, doer := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "USD", r.URL.Query().Get("base"))
		require.Equal(t, "XAU,XAG", r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"success":true,"rates":{"XAU":0.0005,"XAG":0}}`))
	})
	results, err := run(t, inst, doer, "latest", adapter.Params{
		"base":  schema.List("XAU", "XAG"),
		"quote": schema.Single("USD"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, pair.Pair{Base: "XAU", Quote: "USD"}, results[0].Pair)
	require.InDelta(t, 2000, results[0].Value, 1e-9)
	require.Equal(t, pair.Pair{Base: "USD", Quote: "XAG"}, results[1].Pair)
	require.Zero(t, results[1].Value)
}

func TestLatestQueryFollowsPlan(t *testing.T) {
	inst, _ := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})
	ep, err := inst.Endpoint("latest")
	require.NoError(t, err)

	cases := []adapter.Params{
		{"base": schema.Single("XAU"), "quote": schema.Single("USD")},
		{"base": schema.List("XAU", "XPT"), "quote": schema.Single("EUR")},
	}
	for _, params := range cases {
		prepared, err := ep.Batch.Prepare(params)
		require.NoError(t, err)
		for key, want := range prepared.Plan.Params() {
			require.Equal(t, want, prepared.Request.Query.Get(key), key)
		}
	}
	prepared, err := ep.Batch.Prepare(cases[0])
	require.NoError(t, err)
	require.Equal(t, "XAU", prepared.Request.Query.Get("base"))
	require.Equal(t, "USD", prepared.Request.Query.Get("symbols"))
}

func TestLatestRejectsTwoLists(t *testing.T) {
	inst, doer := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("provider must not be called")
	})
	_, err := run(t, inst, doer, "latest", adapter.Params{
		"base":  schema.List("XAU", "XAG"),
		"quote": schema.List("USD", "EUR"),
	})
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CanonicalAmbiguousBatch, e.Canonical)
}

func TestConvertIsDefault(t *testing.T) {
	inst, doer := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/convert", r.URL.Path)
		require.Equal(t, "XAU", r.URL.Query().Get("from"))
		require.Equal(t, "USD", r.URL.Query().Get("to"))
		require.Equal(t, "1", r.URL.Query().Get("amount"))
		_, _ = w.Write([]byte(`{"success":true,"info":{"timestamp":1709294400,"rate":2034.5},"result":2034.5}`))
	})
	results, err := run(t, inst, doer, "", adapter.Params{"base": schema.Single("XAU"), "quote": schema.Single("USD")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 2034.5, results[0].Value, 1e-9)
	require.Equal(t, 2034.5, results[0].Data["rate"])
	require.Equal(t, time.Unix(1709294400, 0).UTC(), results[0].ProviderTime)

	_, err = run(t, inst, doer, "convert", adapter.Params{"base": schema.List("XAU", "XAG"), "quote": schema.Single("USD")})
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestProviderErrorEnvelope(t *testing.T) {
	inst, doer := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":101,"type":"invalid_access_key","info":"You have not supplied a valid API Access Key."}}`))
	})
	_, err := run(t, inst, doer, "convert", adapter.Params{"base": schema.Single("XAU"), "quote": schema.Single("USD")})
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeExchange, e.Code)
	require.Equal(t, "101", e.RawCode)
	require.Contains(t, e.Message, "valid API Access Key")
}

func TestMissingAPIKey(t *testing.T) {
	reg := adapter.NewRegistry()
	RegisterFactory(reg)
	_, err := reg.Create(Name, adapter.Config{}, adapter.Deps{})
	require.Error(t, err)
}
