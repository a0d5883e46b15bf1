// Package twosigma streams equity prices from the Two Sigma websocket feed.
package twosigma

import (
	"github.com/coachpo/pricebridge/internal/app/adapter"
)

const (
	// Name is the adapter identifier.
	Name = "twosigma"

	settingEndpoint = "WS_API_ENDPOINT"
	settingAPIKey   = "WS_API_KEY"

	defaultEndpoint = "wss://chainlinkcloud1.twosigma.com:8765"
)

var metadata = adapter.Metadata{
	Identifier:      Name,
	DisplayName:     "Two Sigma",
	Description:     "Equity prices pushed over the Two Sigma websocket feed",
	Capabilities:    []string{"stream"},
	DefaultEndpoint: "price",
	SettingsSchema: []adapter.Setting{
		{Name: settingEndpoint, Type: "string", Description: "The default WebSocket API base url", Default: defaultEndpoint, Required: true},
		{Name: settingAPIKey, Type: "string", Description: "The API key used to authenticate requests", Required: true, Sensitive: true},
	},
}

// RegisterFactory installs the Two Sigma adapter into reg.
func RegisterFactory(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	reg.Register(metadata, newAdapter)
}

func newAdapter(settings adapter.Settings, deps adapter.Deps) (*adapter.Adapter, error) {
	handler, err := newPriceHandler(settings, deps)
	if err != nil {
		return nil, err
	}
	return &adapter.Adapter{
		Metadata: metadata,
		Endpoints: []adapter.Endpoint{{
			Name:        "price",
			Description: "Latest price for an equity symbol",
			Params:      adapter.PriceParams,
			Stream:      handler,
		}},
	}, nil
}
