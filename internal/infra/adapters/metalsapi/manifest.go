// Package metalsapi prices precious metals through the Metals-API REST service.
package metalsapi

import (
	"github.com/coachpo/pricebridge/internal/app/adapter"
)

const (
	// Name is the adapter identifier.
	Name = "metalsapi"

	settingAPIEndpoint = "API_ENDPOINT"
	settingAPIKey      = "API_KEY"

	defaultAPIEndpoint = "https://metals-api.com/api/"
)

var metadata = adapter.Metadata{
	Identifier:      Name,
	DisplayName:     "Metals-API",
	Description:     "Precious metal conversions and batched latest rates",
	Capabilities:    []string{"batch"},
	DefaultEndpoint: "convert",
	SettingsSchema: []adapter.Setting{
		{Name: settingAPIEndpoint, Type: "string", Description: "The REST API base url", Default: defaultAPIEndpoint},
		{Name: settingAPIKey, Type: "string", Description: "The Metals-API access key", Required: true, Sensitive: true},
	},
}

// RegisterFactory installs the Metals-API adapter into reg.
func RegisterFactory(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	reg.Register(metadata, newAdapter)
}

func newAdapter(settings adapter.Settings, _ adapter.Deps) (*adapter.Adapter, error) {
	c := client{baseURL: settings.String(settingAPIEndpoint), apiKey: settings.String(settingAPIKey)}
	return &adapter.Adapter{
		Metadata: metadata,
		Endpoints: []adapter.Endpoint{
			{
				Name:        "convert",
				Aliases:     []string{"price"},
				Description: "Converts one unit of base into quote",
				Params:      adapter.PriceParams,
				Batch:       &convertTransport{client: c},
			},
			{
				Name:        "latest",
				Description: "Returns a batched price comparison from one currency to a list of other currencies",
				Params:      adapter.PriceParams,
				Batch:       &latestTransport{client: c},
			},
		},
	}, nil
}
