package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/gateway"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

type fakeGateway struct {
	last schema.AdapterRequest
	resp schema.Response
	err  error
}

func (g *fakeGateway) Execute(_ context.Context, req schema.AdapterRequest) (schema.Response, error) {
	g.last = req
	resp := g.resp
	resp.JobRunID = req.ID
	return resp, g.err
}

func (g *fakeGateway) Adapters() []gateway.AdapterInfo {
	return []gateway.AdapterInfo{{Name: "metalsapi", Status: gateway.StatusRunning}}
}

func (g *fakeGateway) Adapter(name string) (gateway.AdapterInfo, bool) {
	if name != "metalsapi" {
		return gateway.AdapterInfo{}, false
	}
	return gateway.AdapterInfo{
		Name:     "metalsapi",
		Status:   gateway.StatusRunning,
		Settings: map[string]any{"API_ENDPOINT": "https://metals-api.com/api/"},
	}, true
}

func newTestHandler(gw *fakeGateway) http.Handler {
	reg := adapter.NewRegistry()
	reg.Register(adapter.Metadata{Identifier: "coinpaprika"}, func(adapter.Settings, adapter.Deps) (*adapter.Adapter, error) {
		return &adapter.Adapter{}, nil
	})
	return NewHandler(gw, reg, zerolog.Nop())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestExecuteReturnsResult(t *testing.T) {
	value := 2034.15
	gw := &fakeGateway{resp: schema.Response{StatusCode: http.StatusOK, Result: &value, Data: map[string]any{"result": value}}}
	handler := newTestHandler(gw)

	body := `{"id":"1","data":{"endpoint":"latest","base":"XAU","quote":"USD"}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	require.Equal(t, "1", out["jobRunID"])
	require.Equal(t, value, out["result"])
	require.Equal(t, "XAU", gw.last.Data["base"])
}

func TestExecuteMapsErrors(t *testing.T) {
	gw := &fakeGateway{err: errs.New("starkware", errs.CodeTimeout, errs.WithMessage("provider timed out"))}
	handler := newTestHandler(gw)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"42","data":{}}`)))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	out := decodeBody(t, rec)
	require.Equal(t, "42", out["jobRunID"])
	require.Equal(t, "errored", out["status"])
	require.Equal(t, float64(http.StatusGatewayTimeout), out["statusCode"])
	errBody, ok := out["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "timeout", errBody["name"])
	require.Equal(t, "provider timed out", errBody["message"])
}

func TestExecuteRejectsBadBodies(t *testing.T) {
	handler := newTestHandler(&fakeGateway{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "errored", decodeBody(t, rec)["status"])

	large := bytes.Repeat([]byte("a"), int(maxJSONBodyBytes)+10)
	payload := append([]byte(`{"id":"1","data":{"pad":"`), large...)
	payload = append(payload, []byte(`"}}`)...)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestExecuteAdapterPathSetsAdapter(t *testing.T) {
	value := 1.0
	gw := &fakeGateway{resp: schema.Response{StatusCode: http.StatusOK, Result: &value}}
	handler := newTestHandler(gw)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/adapters/starkware", strings.NewReader(`{"id":"1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "starkware", gw.last.Data["adapter"])
}

func TestUnknownPathAndMethod(t *testing.T) {
	handler := newTestHandler(&fakeGateway{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nope", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/adapters", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(&fakeGateway{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestAdapterDiscovery(t *testing.T) {
	handler := newTestHandler(&fakeGateway{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	require.Len(t, out["adapters"], 1)
	require.Len(t, out["available"], 1)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters/metalsapi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "running", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters/coinpaprika", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
