package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/domain/schema"
	"github.com/coachpo/pricebridge/internal/infra/cache"
)

// Execute serves one adapter request. The returned response carries the job
// run id even when err is non-nil.
func (g *Gateway) Execute(ctx context.Context, req schema.AdapterRequest) (schema.Response, error) {
	resp := schema.Response{JobRunID: strings.TrimSpace(req.ID)}
	if resp.JobRunID == "" {
		resp.JobRunID = g.opts.NewID()
	}

	state, err := g.resolve(req.Adapter())
	if err != nil {
		return resp, err
	}
	name := state.name
	ep, err := state.instance.Endpoint(req.Endpoint())
	if err != nil {
		return resp, err
	}
	params, err := adapter.NormalizeParams(name, ep.Params, req.Data)
	if err != nil {
		return resp, err
	}

	var results []schema.Result
	switch ep.Kind() {
	case adapter.KindStream:
		results, err = g.executeStream(ctx, state, ep, params)
	case adapter.KindDirect:
		results, err = g.executeDirect(ctx, name, ep, params)
	default:
		results, err = g.executeBatch(ctx, name, ep, params)
	}
	if err != nil {
		return resp, err
	}
	return respond(name, resp, results)
}

func (g *Gateway) executeBatch(ctx context.Context, name string, ep adapter.Endpoint, params adapter.Params) ([]schema.Result, error) {
	if g.opts.Doer == nil {
		return nil, errs.New(name, errs.CodeUnavailable, errs.WithMessage("no provider transport configured"))
	}
	prepared, err := ep.Batch.Prepare(params)
	if err != nil {
		return nil, err
	}
	providerResp, err := g.opts.Doer.Do(ctx, name, prepared.Request)
	if err != nil {
		g.logger.Warn().Err(err).Str("adapter", name).Str("endpoint", ep.Name).Msg("provider request failed")
		return nil, err
	}
	if providerResp.ReceivedAt.IsZero() {
		providerResp.ReceivedAt = g.opts.Clock()
	}
	results, err := ep.Batch.Parse(prepared, providerResp)
	if err != nil {
		return nil, err
	}
	g.store(ctx, name, ep.Name, results)
	return results, nil
}

func (g *Gateway) executeDirect(ctx context.Context, name string, ep adapter.Endpoint, params adapter.Params) ([]schema.Result, error) {
	results, err := ep.Direct.Fetch(ctx, params)
	if err != nil {
		return nil, err
	}
	g.store(ctx, name, ep.Name, results)
	return results, nil
}

func (g *Gateway) executeStream(ctx context.Context, state *adapterState, ep adapter.Endpoint, params adapter.Params) ([]schema.Result, error) {
	name := state.name
	p, err := params.Pair(name)
	if err != nil {
		return nil, err
	}
	stream, ok := state.streams[strings.ToLower(ep.Name)]
	if !ok {
		return nil, errs.New(name, errs.CodeUnavailable,
			errs.WithMessage(fmt.Sprintf("endpoint %s has no running stream", ep.Name)))
	}
	if err := stream.Subscribe(ctx, p); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", p, err)
	}

	key := cache.Key(name, ep.Name, schema.Result{Pair: p})
	result, hit, err := g.opts.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read cached %s: %w", p, err)
	}
	g.opts.Instruments.CacheLookup(ctx, g.opts.CacheBackend, hit)
	if !hit {
		return nil, errs.New(name, errs.CodeUnavailable,
			errs.WithHTTP(http.StatusGatewayTimeout),
			errs.WithMessage(fmt.Sprintf("waiting for data for %s, subscription is warming up", p)))
	}
	return []schema.Result{result}, nil
}

func (g *Gateway) store(ctx context.Context, name, endpoint string, results []schema.Result) {
	if len(results) == 0 {
		return
	}
	if err := g.opts.Sink.Put(ctx, cache.Entries(name, endpoint, results)); err != nil {
		g.logger.Warn().Err(err).Str("adapter", name).Str("endpoint", endpoint).Msg("store results")
	}
}

// respond shapes results into the job envelope. A single result populates the
// top-level result; several are listed under data.results. When every result
// failed the first failure is returned.
func respond(name string, resp schema.Response, results []schema.Result) (schema.Response, error) {
	if len(results) == 0 {
		return resp, errs.New(name, errs.CodeMissingData,
			errs.WithMessage("provider returned no results"),
			errs.WithCanonicalCode(errs.CanonicalMissingData))
	}
	var firstErr *errs.E
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
			continue
		}
		if firstErr == nil {
			firstErr = r.Err
		}
	}
	if ok == 0 {
		return resp, firstErr
	}

	resp.StatusCode = http.StatusOK
	if len(results) == 1 {
		r := results[0]
		value := r.Value
		resp.Result = &value
		data := make(map[string]any, len(r.Data)+1)
		for k, v := range r.Data {
			data[k] = v
		}
		data["result"] = value
		resp.Data = data
		return resp, nil
	}
	resp.Data = map[string]any{"results": results}
	return resp, nil
}
