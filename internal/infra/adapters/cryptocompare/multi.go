package cryptocompare

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// multiTransport reads one RAW field for every requested pair from a single
// pricemultifull call.
type multiTransport struct {
	baseURL string
	apiKey  string
	field   string
}

var _ adapter.BatchTransport = (*multiTransport)(nil)

func (t *multiTransport) Prepare(params adapter.Params) (adapter.Prepared, error) {
	pairs, err := params.Pairs(Name)
	if err != nil {
		return adapter.Prepared{}, err
	}
	var fsyms, tsyms []string
	seenFrom := make(map[string]bool)
	seenTo := make(map[string]bool)
	for _, p := range pairs {
		p = p.Upper()
		if !seenFrom[p.Base] {
			seenFrom[p.Base] = true
			fsyms = append(fsyms, p.Base)
		}
		if !seenTo[p.Quote] {
			seenTo[p.Quote] = true
			tsyms = append(tsyms, p.Quote)
		}
	}
	query := url.Values{}
	query.Set("fsyms", strings.Join(fsyms, ","))
	query.Set("tsyms", strings.Join(tsyms, ","))
	header := http.Header{}
	if t.apiKey != "" {
		header.Set("authorization", "Apikey "+t.apiKey)
	}
	return adapter.Prepared{
		Request: adapter.Request{Method: http.MethodGet, BaseURL: t.baseURL, Path: "/data/pricemultifull", Query: query, Header: header},
		Params:  params,
	}, nil
}

func (t *multiTransport) Parse(prepared adapter.Prepared, resp adapter.Response) ([]schema.Result, error) {
	pairs, err := prepared.Params.Pairs(Name)
	if err != nil {
		return nil, err
	}
	payload, err := adapter.DecodeObject(Name, resp)
	if err != nil {
		return nil, err
	}
	if status, _ := payload["Response"].(string); strings.EqualFold(status, "Error") {
		msg, _ := payload["Message"].(string)
		return nil, errs.New(Name, errs.CodeExchange, errs.WithHTTP(resp.StatusCode), errs.WithMessage(msg))
	}

	out := make([]schema.Result, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, t.entry(payload, p, resp))
	}
	return out, nil
}

func (t *multiTransport) entry(payload map[string]any, p pair.Pair, resp adapter.Response) schema.Result {
	r := schema.Result{Pair: p, ReceivedAt: resp.ReceivedAt}
	upper := p.Upper()
	value, err := schema.NumberAt(payload, "RAW", upper.Base, upper.Quote, t.field)
	if err != nil {
		r.Err = schema.MissingData(Name, p, fmt.Sprintf("%s not in response", t.field))
		return r
	}
	r.Value = value
	r.ProviderTime, _ = schema.TimeAt(payload, "RAW", upper.Base, upper.Quote, "LASTUPDATE")
	return r
}
