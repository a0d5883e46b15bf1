// Package coinpaprika reads global crypto market statistics from CoinPaprika.
package coinpaprika

import (
	"github.com/coachpo/pricebridge/internal/app/adapter"
)

const (
	// Name is the adapter identifier.
	Name = "coinpaprika"

	settingAPIEndpoint = "API_ENDPOINT"
	settingAPIKey      = "API_KEY"

	freeAPIEndpoint = "https://api.coinpaprika.com"
	proAPIEndpoint  = "https://api-pro.coinpaprika.com"
)

var marketParams = []adapter.InputParam{
	{Name: "market", Aliases: []string{"to", "quote"}, Required: true, Description: "The symbol of the currency to convert to"},
}

var metadata = adapter.Metadata{
	Identifier:      Name,
	DisplayName:     "CoinPaprika",
	Description:     "Global market capitalisation and dominance",
	Capabilities:    []string{"batch"},
	DefaultEndpoint: "globalmarketcap",
	SettingsSchema: []adapter.Setting{
		{Name: settingAPIEndpoint, Type: "string", Description: "The REST API base url; defaults to the pro API when a key is set"},
		{Name: settingAPIKey, Type: "string", Description: "The CoinPaprika pro API key", Sensitive: true},
	},
}

// RegisterFactory installs the CoinPaprika adapter into reg.
func RegisterFactory(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	reg.Register(metadata, newAdapter)
}

func newAdapter(settings adapter.Settings, _ adapter.Deps) (*adapter.Adapter, error) {
	key := settings.String(settingAPIKey)
	baseURL := settings.String(settingAPIEndpoint)
	if baseURL == "" {
		baseURL = freeAPIEndpoint
		if key != "" {
			baseURL = proAPIEndpoint
		}
	}
	return &adapter.Adapter{
		Metadata: metadata,
		Endpoints: []adapter.Endpoint{
			{
				Name:        "globalmarketcap",
				Aliases:     []string{"marketcap"},
				Description: "Total market capitalisation in the requested currency",
				Params:      marketParams,
				Batch:       &globalTransport{baseURL: baseURL, apiKey: key, property: marketCapProperty},
			},
			{
				Name:        "dominance",
				Aliases:     []string{"market_dominance"},
				Description: "Market dominance percentage of the requested asset",
				Params:      marketParams,
				Batch:       &globalTransport{baseURL: baseURL, apiKey: key, property: dominanceProperty},
			},
		},
	}, nil
}
