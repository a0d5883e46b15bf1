package tradermade

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/subscription"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

type subscribeFrame struct {
	UserKey string `json:"userKey"`
	Symbol  string `json:"symbol"`
}

type forexMessage struct {
	Symbol string   `json:"symbol"`
	TS     string   `json:"ts"`
	Bid    float64  `json:"bid"`
	Ask    float64  `json:"ask"`
	Mid    *float64 `json:"mid"`
}

// forexHandler keys subscriptions by the concatenated symbol. EURUSD cannot be
// split reliably, so inbound symbols are resolved through the reverse map.
type forexHandler struct {
	endpoint string
	apiKey   string
	registry *subscription.Registry
	now      func() time.Time
}

var _ adapter.StreamHandler = (*forexHandler)(nil)

func newForexHandler(settings adapter.Settings, deps adapter.Deps) (*forexHandler, error) {
	policy := subscription.UnknownSilent
	if deps.UnknownSymbolWarn {
		policy = subscription.UnknownWarn
	}
	registry, err := subscription.New(subscription.Options{
		Encoder:        pair.ConcatCodec{},
		Strategy:       subscription.ReverseMap,
		UnknownSymbols: policy,
		Logger:         deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &forexHandler{
		endpoint: settings.String(settingWSEndpoint),
		apiKey:   settings.String(settingWSAPIKey),
		registry: registry,
		now:      deps.Now,
	}, nil
}

func (h *forexHandler) URL(context.Context) (string, error) {
	if h.endpoint == "" {
		return "", fmt.Errorf("%s: %s is not set", Name, settingWSEndpoint)
	}
	h.registry.BindCredential(h.apiKey)
	return h.endpoint, nil
}

func (h *forexHandler) SubscribeMessage(p pair.Pair) (any, error) {
	h.registry.Subscribe(p)
	return subscribeFrame{UserKey: h.registry.Credential(), Symbol: h.registry.Encode(p)}, nil
}

// UnsubscribeMessage forgets p. The feed has no unsubscribe frame.
func (h *forexHandler) UnsubscribeMessage(p pair.Pair) (any, error) {
	h.registry.Unsubscribe(p)
	return nil, nil
}

// Message handles one quote. Status frames such as "Connected" are skipped.
func (h *forexHandler) Message(raw []byte) ([]schema.Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	var msg forexMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", Name, err)
	}
	if strings.TrimSpace(msg.Symbol) == "" {
		return nil, nil
	}
	p, ok := h.registry.Resolve(msg.Symbol)
	if !ok {
		return nil, nil
	}
	r := schema.Result{
		Pair:         p,
		ProviderTime: millis(msg.TS),
		ReceivedAt:   h.now(),
	}
	if msg.Mid == nil {
		r.Err = schema.MissingData(Name, p, "mid missing from quote")
		return []schema.Result{r}, nil
	}
	r.Value = *msg.Mid
	r.Data = map[string]any{"bid": msg.Bid, "ask": msg.Ask, "mid": *msg.Mid}
	return []schema.Result{r}, nil
}

func millis(ts string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
