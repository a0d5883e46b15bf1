package metalsapi

import (
	"net/url"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

type convertTransport struct {
	client client
}

var _ adapter.BatchTransport = (*convertTransport)(nil)

func (t *convertTransport) Prepare(params adapter.Params) (adapter.Prepared, error) {
	p, err := params.Pair(Name)
	if err != nil {
		return adapter.Prepared{}, err
	}
	query := url.Values{}
	query.Set("from", p.Base)
	query.Set("to", p.Quote)
	query.Set("amount", "1")
	return adapter.Prepared{Request: t.client.request("convert", query), Params: params}, nil
}

func (t *convertTransport) Parse(prepared adapter.Prepared, resp adapter.Response) ([]schema.Result, error) {
	p, err := prepared.Params.Pair(Name)
	if err != nil {
		return nil, err
	}
	payload, err := decode(resp)
	if err != nil {
		return nil, err
	}
	r := schema.Result{Pair: p, ReceivedAt: resp.ReceivedAt}
	r.ProviderTime, _ = schema.TimeAt(payload, "info", "timestamp")
	value, err := schema.NumberAt(payload, "result")
	if err != nil {
		r.Err = schema.MissingData(Name, p, err.Error())
		return []schema.Result{r}, nil
	}
	r.Value = value
	if rate, rateErr := schema.NumberAt(payload, "info", "rate"); rateErr == nil {
		r.Data = map[string]any{"rate": rate}
	}
	return []schema.Result{r}, nil
}
