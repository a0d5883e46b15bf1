package metalsapi

import (
	"net/url"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/batch"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// latestTransport batches the quote list into one latest call. A base list is
// requested inverted since the API only accepts a list of symbols.
type latestTransport struct {
	client client
}

var _ adapter.BatchTransport = (*latestTransport)(nil)

func (t *latestTransport) Prepare(params adapter.Params) (adapter.Prepared, error) {
	plan, err := batch.Expand(Name, params.BatchRequest())
	if err != nil {
		return adapter.Prepared{}, err
	}
	query := url.Values{}
	for key, value := range plan.Params() {
		query.Set(key, value)
	}
	return adapter.Prepared{
		Request: t.client.request("latest", query),
		Params:  params,
		Plan:    plan,
	}, nil
}

func (t *latestTransport) Parse(prepared adapter.Prepared, resp adapter.Response) ([]schema.Result, error) {
	payload, err := decode(resp)
	if err != nil {
		return nil, err
	}
	results := prepared.Plan.Reconcile(Name, payload, "rates", resp.ReceivedAt)
	if providerTime, ok := schema.TimeAt(payload, "timestamp"); ok {
		for i := range results {
			results[i].ProviderTime = providerTime
		}
	}
	return results, nil
}
