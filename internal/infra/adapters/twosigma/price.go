package twosigma

import (
	"context"
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/subscription"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

// wireRequest starts streaming for the full symbol set. The feed replaces the
// previous set on every request, so unsubscribe sends the same shape.
type wireRequest struct {
	APIKey  string   `json:"api_key"`
	Symbols []string `json:"symbols"`
}

type wireMessage struct {
	Timestamp       float64              `json:"timestamp"`
	SymbolPriceDict map[string]wireQuote `json:"symbol_price_dict"`
}

type wireQuote struct {
	QuoteCurrency      string   `json:"quote_currency"`
	SessionStatusFlag  string   `json:"session_status_flag"`
	AssetStatusFlag    string   `json:"asset_status_flag"`
	ConfidenceInterval float64  `json:"confidence_interval"`
	Price              *float64 `json:"price"`
}

type priceHandler struct {
	endpoint string
	apiKey   string
	registry *subscription.Registry
	now      func() time.Time
}

var _ adapter.StreamHandler = (*priceHandler)(nil)

func newPriceHandler(settings adapter.Settings, deps adapter.Deps) (*priceHandler, error) {
	policy := subscription.UnknownSilent
	if deps.UnknownSymbolWarn {
		policy = subscription.UnknownWarn
	}
	registry, err := subscription.New(subscription.Options{
		Encoder:        pair.SlashCodec{},
		Strategy:       subscription.Decode,
		UnknownSymbols: policy,
		Logger:         deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &priceHandler{
		endpoint: settings.String(settingEndpoint),
		apiKey:   settings.String(settingAPIKey),
		registry: registry,
		now:      deps.Now,
	}, nil
}

// URL binds the API key used by every subscription frame and returns the feed URL.
func (h *priceHandler) URL(context.Context) (string, error) {
	if h.endpoint == "" {
		return "", fmt.Errorf("%s: %s is not set", Name, settingEndpoint)
	}
	h.registry.BindCredential(h.apiKey)
	return h.endpoint, nil
}

func (h *priceHandler) SubscribeMessage(p pair.Pair) (any, error) {
	return toWire(h.registry.Subscribe(p)), nil
}

func (h *priceHandler) UnsubscribeMessage(p pair.Pair) (any, error) {
	return toWire(h.registry.Unsubscribe(p)), nil
}

// ResubscribeMessages restores the whole set with a single frame after a reconnect.
func (h *priceHandler) ResubscribeMessages() ([]any, error) {
	if h.registry.Len() == 0 {
		return nil, nil
	}
	return []any{toWire(h.registry.Snapshot())}, nil
}

func (h *priceHandler) Message(raw []byte) ([]schema.Result, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", Name, err)
	}
	if len(msg.SymbolPriceDict) == 0 {
		return nil, nil
	}
	providerTime := unixSeconds(msg.Timestamp)
	receivedAt := h.now()

	resolved := subscription.DecodeEntries(h.registry, subscription.SortedEntries(msg.SymbolPriceDict))
	out := make([]schema.Result, 0, len(resolved))
	for _, entry := range resolved {
		quote := entry.Value
		r := schema.Result{
			Pair:         entry.Pair,
			ProviderTime: providerTime,
			ReceivedAt:   receivedAt,
			Data: map[string]any{
				"quote_currency":      quote.QuoteCurrency,
				"session_status_flag": quote.SessionStatusFlag,
				"asset_status_flag":   quote.AssetStatusFlag,
				"confidence_interval": quote.ConfidenceInterval,
			},
		}
		if quote.Price == nil {
			r.Err = schema.MissingData(Name, entry.Pair, "price missing from message")
		} else {
			r.Value = *quote.Price
			r.Data["price"] = *quote.Price
		}
		out = append(out, r)
	}
	return out, nil
}

func toWire(req subscription.WireRequest) wireRequest {
	return wireRequest{APIKey: req.APIKey, Symbols: req.Symbols}
}

func unixSeconds(ts float64) time.Time {
	if ts <= 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
