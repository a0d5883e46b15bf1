// Package adapters wires built-in adapters into the adapter registry.
package adapters

import (
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/infra/adapters/coinpaprika"
	"github.com/coachpo/pricebridge/internal/infra/adapters/cryptocompare"
	"github.com/coachpo/pricebridge/internal/infra/adapters/metalsapi"
	"github.com/coachpo/pricebridge/internal/infra/adapters/starkware"
	"github.com/coachpo/pricebridge/internal/infra/adapters/tradermade"
	"github.com/coachpo/pricebridge/internal/infra/adapters/twosigma"
)

// RegisterAll installs every built-in adapter into the provided registry.
func RegisterAll(reg *adapter.Registry) {
	if reg == nil {
		return
	}
	coinpaprika.RegisterFactory(reg)
	cryptocompare.RegisterFactory(reg)
	metalsapi.RegisterFactory(reg)
	starkware.RegisterFactory(reg)
	tradermade.RegisterFactory(reg)
	twosigma.RegisterFactory(reg)
}

// NewRegistry returns a registry holding every built-in adapter.
func NewRegistry() *adapter.Registry {
	reg := adapter.NewRegistry()
	RegisterAll(reg)
	return reg
}
