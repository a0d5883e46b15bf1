// Package cryptocompare prices crypto pairs through the CryptoCompare pricemultifull API.
package cryptocompare

import (
	"github.com/coachpo/pricebridge/internal/app/adapter"
)

const (
	// Name is the adapter identifier.
	Name = "cryptocompare"

	settingAPIEndpoint = "API_ENDPOINT"
	settingAPIKey      = "API_KEY"

	defaultAPIEndpoint = "https://min-api.cryptocompare.com"
)

var metadata = adapter.Metadata{
	Identifier:      Name,
	DisplayName:     "CryptoCompare",
	Description:     "Crypto prices, 24h volume and market cap for every base and quote combination",
	Capabilities:    []string{"batch"},
	DefaultEndpoint: "crypto",
	SettingsSchema: []adapter.Setting{
		{Name: settingAPIEndpoint, Type: "string", Description: "The REST API base url", Default: defaultAPIEndpoint},
		{Name: settingAPIKey, Type: "string", Description: "The CryptoCompare API key", Sensitive: true},
	},
}

// RegisterFactory installs the CryptoCompare adapter into reg.
func RegisterFactory(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	reg.Register(metadata, newAdapter)
}

func newAdapter(settings adapter.Settings, _ adapter.Deps) (*adapter.Adapter, error) {
	baseURL := settings.String(settingAPIEndpoint)
	key := settings.String(settingAPIKey)
	transport := func(field string) *multiTransport {
		return &multiTransport{baseURL: baseURL, apiKey: key, field: field}
	}
	return &adapter.Adapter{
		Metadata: metadata,
		Endpoints: []adapter.Endpoint{
			{Name: "crypto", Aliases: []string{"price"}, Description: "Latest price", Params: adapter.PriceParams, Batch: transport("PRICE")},
			{Name: "volume", Description: "24 hour volume in the quote currency", Params: adapter.PriceParams, Batch: transport("VOLUME24HOURTO")},
			{Name: "marketcap", Description: "Market capitalisation in the quote currency", Params: adapter.PriceParams, Batch: transport("MKTCAP")},
		},
	}, nil
}
