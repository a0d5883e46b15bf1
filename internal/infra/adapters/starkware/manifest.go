// Package starkware reports the health of the Starknet sequencer.
package starkware

import (
	"fmt"
	"time"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/health"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
)

const (
	// Name is the adapter identifier.
	Name = "starkware"

	settingGatewayURL   = "STARKWARE_GATEWAY_URL"
	settingDelta        = "DELTA"
	settingTimeoutLimit = "TIMEOUT_LIMIT"

	defaultGatewayURL   = "https://alpha-mainnet.starknet.io"
	defaultTimeoutLimit = 5 * time.Second
)

var metadata = adapter.Metadata{
	Identifier:      Name,
	DisplayName:     "Starkware sequencer health",
	Description:     "Detects a stalled Starknet sequencer from its pending block",
	Capabilities:    []string{"direct"},
	DefaultEndpoint: "health",
	SettingsSchema: []adapter.Setting{
		{Name: settingGatewayURL, Type: "string", Description: "The Starknet feeder gateway url", Default: defaultGatewayURL},
		{Name: settingDelta, Type: "duration", Description: "Minimum time between two upstream checks", Default: health.DefaultDelta.String()},
		{Name: settingTimeoutLimit, Type: "duration", Description: "Pending block request timeout", Default: defaultTimeoutLimit.String()},
	},
}

// RegisterFactory installs the sequencer health adapter into reg.
func RegisterFactory(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	reg.Register(metadata, newAdapter)
}

func newAdapter(settings adapter.Settings, deps adapter.Deps) (*adapter.Adapter, error) {
	if deps.Doer == nil {
		return nil, fmt.Errorf("%s requires a provider transport", Name)
	}
	fetcher := &blockFetcher{
		doer:       deps.Doer,
		gatewayURL: settings.String(settingGatewayURL),
		timeout:    settings.Duration(settingTimeoutLimit, defaultTimeoutLimit),
		now:        deps.Now,
	}
	check := health.NewSequencerCheck(fetcher, health.Options{
		Delta:  settings.Duration(settingDelta, health.DefaultDelta),
		Clock:  deps.Now,
		Logger: deps.Logger.With().Str("network", network).Logger(),
	})
	return &adapter.Adapter{
		Metadata: metadata,
		Endpoints: []adapter.Endpoint{{
			Name:        "health",
			Description: "1 when the sequencer is healthy, 0 otherwise",
			Direct: &healthTransport{
				check:       check,
				instruments: telemetry.NewInstruments(deps.Meter),
				now:         deps.Now,
			},
		}},
	}, nil
}
