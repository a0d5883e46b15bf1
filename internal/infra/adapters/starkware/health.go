package starkware

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/health"
	"github.com/coachpo/pricebridge/internal/domain/schema"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
)

const network = "starkware"

type pendingBlock struct {
	ParentBlockHash string            `json:"parent_block_hash"`
	Transactions    []json.RawMessage `json:"transactions"`
}

// blockFetcher reads the pending block from the feeder gateway.
type blockFetcher struct {
	doer       adapter.Doer
	gatewayURL string
	timeout    time.Duration
	now        func() time.Time
}

var _ health.BlockFetcher = (*blockFetcher)(nil)

func (f *blockFetcher) PendingBlock(ctx context.Context) (health.BlockSnapshot, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	resp, err := f.doer.Do(ctx, Name, adapter.Request{
		Method:  http.MethodGet,
		BaseURL: f.gatewayURL,
		Path:    "/feeder_gateway/get_block",
		Query:   url.Values{"blockNumber": {"pending"}},
	})
	if err != nil {
		return health.BlockSnapshot{}, err
	}
	var block pendingBlock
	if err := json.Unmarshal(resp.Body, &block); err != nil {
		return health.BlockSnapshot{}, errs.New(Name, errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("malformed pending block"),
			errs.WithCause(fmt.Errorf("decode pending block: %w", err)))
	}
	return health.BlockSnapshot{
		ParentHash:       block.ParentBlockHash,
		TransactionCount: len(block.Transactions),
		CapturedAt:       f.now(),
	}, nil
}

type healthTransport struct {
	check       *health.SequencerCheck
	instruments *telemetry.Instruments
	now         func() time.Time
}

var _ adapter.DirectTransport = (*healthTransport)(nil)

func (t *healthTransport) Fetch(ctx context.Context, _ adapter.Params) ([]schema.Result, error) {
	healthy, err := t.check.Check(ctx)
	if err != nil {
		return nil, err
	}
	t.instruments.SequencerHealth(ctx, Name, healthy)

	var value float64
	if healthy {
		value = 1
	}
	return []schema.Result{{
		Params:     map[string]string{"network": network},
		Value:      value,
		Data:       map[string]any{"isHealthy": healthy},
		ReceivedAt: t.now(),
	}}, nil
}
