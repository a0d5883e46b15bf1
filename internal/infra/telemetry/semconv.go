package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by gateway metrics, following namespace.attribute_name.
const (
	// AttrAdapter identifies the adapter that produced the signal.
	AttrAdapter = attribute.Key("adapter")
	// AttrEndpoint identifies the adapter endpoint.
	AttrEndpoint = attribute.Key("endpoint")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrStatus carries the HTTP status returned by a provider.
	AttrStatus = attribute.Key("status")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrOperation differentiates operations such as subscribe and unsubscribe.
	AttrOperation = attribute.Key("operation")
	// AttrCache names the cache backend.
	AttrCache = attribute.Key("cache")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
)

// Result values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// AdapterAttributes returns the common adapter/endpoint attribute set.
func AdapterAttributes(adapter, endpoint string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrAdapter.String(adapter),
	}
	if endpoint != "" {
		attrs = append(attrs, AttrEndpoint.String(endpoint))
	}
	return attrs
}

// ResultAttributes extends the adapter attributes with an outcome.
func ResultAttributes(adapter, endpoint, result string) []attribute.KeyValue {
	return append(AdapterAttributes(adapter, endpoint), AttrResult.String(result))
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(adapter, state string) []attribute.KeyValue {
	return append(AdapterAttributes(adapter, ""), AttrConnectionState.String(state))
}
