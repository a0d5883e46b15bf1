package coinpaprika

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// dominanceAssets maps market symbols to the asset names used in /v1/global.
var dominanceAssets = map[string]string{
	"BTC": "bitcoin",
}

func marketCapProperty(market string) string {
	return "market_cap_" + strings.ToLower(market)
}

func dominanceProperty(market string) string {
	asset, ok := dominanceAssets[strings.ToUpper(market)]
	if !ok {
		return ""
	}
	return asset + "_dominance_percentage"
}

// globalTransport answers every requested market from a single /v1/global call.
type globalTransport struct {
	baseURL  string
	apiKey   string
	property func(market string) string
}

var _ adapter.BatchTransport = (*globalTransport)(nil)

func (t *globalTransport) Prepare(params adapter.Params) (adapter.Prepared, error) {
	if len(markets(params)) == 0 {
		return adapter.Prepared{}, errs.Invalid(Name, "market is required")
	}
	header := http.Header{}
	if t.apiKey != "" {
		header.Set("Authorization", t.apiKey)
	}
	return adapter.Prepared{
		Request: adapter.Request{Method: http.MethodGet, BaseURL: t.baseURL, Path: "/v1/global", Header: header},
		Params:  params,
	}, nil
}

func (t *globalTransport) Parse(prepared adapter.Prepared, resp adapter.Response) ([]schema.Result, error) {
	payload, err := adapter.DecodeObject(Name, resp)
	if err != nil {
		return nil, err
	}
	if msg, ok := payload["error"].(string); ok {
		return nil, errs.New(Name, errs.CodeExchange, errs.WithHTTP(resp.StatusCode), errs.WithMessage(msg))
	}
	providerTime, _ := schema.TimeAt(payload, "last_updated")

	list := markets(prepared.Params)
	out := make([]schema.Result, 0, len(list))
	for _, market := range list {
		r := schema.Result{
			Params:       map[string]string{"market": market},
			ProviderTime: providerTime,
			ReceivedAt:   resp.ReceivedAt,
		}
		value, ok := t.value(payload, market)
		if !ok {
			r.Err = errs.New(Name, errs.CodeMissingData,
				errs.WithHTTP(http.StatusBadRequest),
				errs.WithMessage(fmt.Sprintf("Data for %q is not found", market)),
				errs.WithCanonicalCode(errs.CanonicalMissingData),
				errs.WithField("market", market))
		} else {
			r.Value = value
		}
		out = append(out, r)
	}
	return out, nil
}

// value treats zero like a missing property; the API reports unknown markets as 0.
func (t *globalTransport) value(payload map[string]any, market string) (float64, bool) {
	property := t.property(market)
	if property == "" {
		return 0, false
	}
	value, err := schema.NumberAt(payload, property)
	if err != nil || value == 0 {
		return 0, false
	}
	return value, true
}

func markets(params adapter.Params) []string {
	values := params["market"].Values()
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
