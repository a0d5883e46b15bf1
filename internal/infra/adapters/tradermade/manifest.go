// Package tradermade serves forex rates from TraderMade over websocket and REST.
package tradermade

import (
	"github.com/coachpo/pricebridge/internal/app/adapter"
)

const (
	// Name is the adapter identifier.
	Name = "tradermade"

	settingWSEndpoint  = "WS_API_ENDPOINT"
	settingWSAPIKey    = "WS_API_KEY"
	settingAPIEndpoint = "API_ENDPOINT"
	settingAPIKey      = "API_KEY"

	defaultWSEndpoint  = "wss://marketdata.tradermade.com/feedadv"
	defaultAPIEndpoint = "https://marketdata.tradermade.com/api/v1"
)

var metadata = adapter.Metadata{
	Identifier:      Name,
	DisplayName:     "TraderMade",
	Description:     "Forex mid rates from the TraderMade streaming and live APIs",
	Capabilities:    []string{"stream", "batch"},
	DefaultEndpoint: "forex",
	SettingsSchema: []adapter.Setting{
		{Name: settingWSEndpoint, Type: "string", Description: "The websocket API url", Default: defaultWSEndpoint, Required: true},
		{Name: settingWSAPIKey, Type: "string", Description: "The streaming user key", Required: true, Sensitive: true},
		{Name: settingAPIEndpoint, Type: "string", Description: "The REST API base url", Default: defaultAPIEndpoint},
		{Name: settingAPIKey, Type: "string", Description: "The REST API key; the streaming key is used when unset", Sensitive: true},
	},
	RateLimits: adapter.RateLimits{Tiers: []adapter.RateTier{
		{Name: "basic", PerHour: 1.369},
		{Name: "professional", PerHour: 13.69},
		{Name: "business", PerHour: 68.49},
		{Name: "advanced", PerHour: 342.46},
		{Name: "enterprise", PerHour: 833.33},
		{Name: "enterprise-xl", PerHour: 1736.11},
	}},
}

// RegisterFactory installs the TraderMade adapter into reg.
func RegisterFactory(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	reg.Register(metadata, newAdapter)
}

func newAdapter(settings adapter.Settings, deps adapter.Deps) (*adapter.Adapter, error) {
	forex, err := newForexHandler(settings, deps)
	if err != nil {
		return nil, err
	}
	return &adapter.Adapter{
		Metadata: metadata,
		Endpoints: []adapter.Endpoint{
			{
				Name:        "forex",
				Description: "Streaming mid rate for a currency pair",
				Params:      adapter.PriceParams,
				Stream:      forex,
			},
			{
				Name:        "live",
				Description: "Live mid rates for every base and quote combination",
				Params:      adapter.PriceParams,
				Batch:       newLiveTransport(settings),
			},
		},
	}, nil
}
