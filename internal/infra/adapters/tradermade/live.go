package tradermade

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

type liveTransport struct {
	baseURL string
	apiKey  string
}

var _ adapter.BatchTransport = (*liveTransport)(nil)

func newLiveTransport(settings adapter.Settings) *liveTransport {
	key := settings.String(settingAPIKey)
	if key == "" {
		key = settings.String(settingWSAPIKey)
	}
	return &liveTransport{baseURL: settings.String(settingAPIEndpoint), apiKey: key}
}

// Prepare requests every base and quote combination in a single call.
func (t *liveTransport) Prepare(params adapter.Params) (adapter.Prepared, error) {
	pairs, err := params.Pairs(Name)
	if err != nil {
		return adapter.Prepared{}, err
	}
	currencies := make([]string, 0, len(pairs))
	for _, p := range pairs {
		currencies = append(currencies, pair.ConcatCodec{}.Encode(p))
	}
	query := url.Values{}
	query.Set("currency", strings.Join(currencies, ","))
	query.Set("api_key", t.apiKey)
	return adapter.Prepared{
		Request: adapter.Request{Method: http.MethodGet, BaseURL: t.baseURL, Path: "live", Query: query},
		Params:  params,
	}, nil
}

func (t *liveTransport) Parse(prepared adapter.Prepared, resp adapter.Response) ([]schema.Result, error) {
	pairs, err := prepared.Params.Pairs(Name)
	if err != nil {
		return nil, err
	}
	payload, err := adapter.DecodeObject(Name, resp)
	if err != nil {
		return nil, err
	}
	if msg, ok := payload["message"].(string); ok {
		if _, hasQuotes := payload["quotes"]; !hasQuotes {
			return nil, errs.New(Name, errs.CodeExchange, errs.WithHTTP(resp.StatusCode), errs.WithMessage(msg))
		}
	}

	quotes, _ := payload["quotes"].([]any)
	byPair := make(map[string]map[string]any, len(quotes))
	for _, raw := range quotes {
		quote, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		base, _ := quote["base_currency"].(string)
		target, _ := quote["quote_currency"].(string)
		byPair[strings.ToUpper(base+target)] = quote
	}
	providerTime, _ := schema.TimeAt(payload, "timestamp")

	out := make([]schema.Result, 0, len(pairs))
	for _, p := range pairs {
		r := schema.Result{Pair: p, ProviderTime: providerTime, ReceivedAt: resp.ReceivedAt}
		quote, ok := byPair[pair.ConcatCodec{}.Encode(p)]
		if !ok {
			r.Err = schema.MissingData(Name, p, "")
			out = append(out, r)
			continue
		}
		mid, err := schema.NumberAt(quote, "mid")
		if err != nil {
			r.Err = schema.MissingData(Name, p, err.Error())
			out = append(out, r)
			continue
		}
		r.Value = mid
		r.Data = map[string]any{"bid": quote["bid"], "ask": quote["ask"], "mid": mid}
		out = append(out, r)
	}
	return out, nil
}
