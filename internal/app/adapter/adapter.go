// Package adapter defines the contract between provider adapters and the gateway runtime.
package adapter

import (
	"fmt"
	"strings"

	"github.com/coachpo/pricebridge/errs"
)

// Adapter is a configured provider adapter.
type Adapter struct {
	Metadata  Metadata
	Endpoints []Endpoint
	Settings  Settings
	// RateTier is the tier selected from Metadata.RateLimits, if any.
	RateTier RateTier
}

// Name returns the adapter identifier.
func (a *Adapter) Name() string {
	return a.Metadata.Identifier
}

// Endpoint resolves name (or the default endpoint when name is empty) to an endpoint.
func (a *Adapter) Endpoint(name string) (Endpoint, error) {
	target := strings.TrimSpace(name)
	if target == "" {
		target = a.Metadata.DefaultEndpoint
	}
	for _, ep := range a.Endpoints {
		if ep.Matches(target) {
			return ep, nil
		}
	}
	return Endpoint{}, errs.New(a.Name(), errs.CodeNotFound,
		errs.WithMessage(fmt.Sprintf("endpoint %q not supported", target)),
		errs.WithCanonicalCode(errs.CanonicalUnknownEndpoint))
}

// Describe fills the endpoint listing in the metadata from the configured endpoints.
func (a *Adapter) Describe() Metadata {
	meta := a.Metadata.Clone()
	meta.Endpoints = make([]EndpointInfo, 0, len(a.Endpoints))
	for _, ep := range a.Endpoints {
		meta.Endpoints = append(meta.Endpoints, EndpointInfo{
			Name:    ep.Name,
			Aliases: append([]string(nil), ep.Aliases...),
			Kind:    ep.Kind(),
			Params:  append([]InputParam(nil), ep.Params...),
		})
	}
	return meta
}

// Validate checks that every endpoint has exactly one transport and the default endpoint exists.
func (a *Adapter) Validate() error {
	if strings.TrimSpace(a.Metadata.Identifier) == "" {
		return fmt.Errorf("adapter identifier required")
	}
	if len(a.Endpoints) == 0 {
		return fmt.Errorf("adapter %s: no endpoints", a.Name())
	}
	for _, ep := range a.Endpoints {
		count := 0
		if ep.Batch != nil {
			count++
		}
		if ep.Stream != nil {
			count++
		}
		if ep.Direct != nil {
			count++
		}
		if count != 1 {
			return fmt.Errorf("adapter %s: endpoint %s must have exactly one transport", a.Name(), ep.Name)
		}
	}
	if a.Metadata.DefaultEndpoint != "" {
		if _, err := a.Endpoint(a.Metadata.DefaultEndpoint); err != nil {
			return fmt.Errorf("adapter %s: default endpoint: %w", a.Name(), err)
		}
	}
	return nil
}
