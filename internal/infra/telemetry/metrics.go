package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names emitted by the gateway.
const (
	MetricProviderRequests  = "provider.requests"
	MetricProviderDuration  = "provider.request.duration"
	MetricStreamMessages    = "stream.messages"
	MetricStreamConnections = "stream.connections"
	MetricSubscriptions     = "stream.subscriptions"
	MetricCacheLookups      = "cache.lookups"
	MetricSequencerHealthy  = "sequencer.healthy"
	MetricMigrations        = "db.migrations.total"
)

// Instruments bundles the gateway's metric instruments. A nil *Instruments is a valid no-op recorder.
type Instruments struct {
	providerRequests  metric.Int64Counter
	providerDuration  metric.Float64Histogram
	streamMessages    metric.Int64Counter
	streamConnections metric.Int64Counter
	subscriptions     metric.Int64UpDownCounter
	cacheLookups      metric.Int64Counter
	sequencerHealthy  metric.Int64Gauge
}

// NewInstruments registers the gateway instruments on meter, falling back to the global meter when nil.
func NewInstruments(meter metric.Meter) *Instruments {
	if meter == nil {
		meter = otel.Meter("pricebridge")
	}
	in := &Instruments{}
	in.providerRequests, _ = meter.Int64Counter(MetricProviderRequests,
		metric.WithDescription("Outbound provider requests"),
		metric.WithUnit("{request}"))
	in.providerDuration, _ = meter.Float64Histogram(MetricProviderDuration,
		metric.WithDescription("Outbound provider request latency"),
		metric.WithUnit("ms"))
	in.streamMessages, _ = meter.Int64Counter(MetricStreamMessages,
		metric.WithDescription("Inbound streaming messages"),
		metric.WithUnit("{message}"))
	in.streamConnections, _ = meter.Int64Counter(MetricStreamConnections,
		metric.WithDescription("Streaming connection lifecycle events"),
		metric.WithUnit("{event}"))
	in.subscriptions, _ = meter.Int64UpDownCounter(MetricSubscriptions,
		metric.WithDescription("Active streaming subscriptions"),
		metric.WithUnit("{subscription}"))
	in.cacheLookups, _ = meter.Int64Counter(MetricCacheLookups,
		metric.WithDescription("Result cache lookups"),
		metric.WithUnit("{lookup}"))
	in.sequencerHealthy, _ = meter.Int64Gauge(MetricSequencerHealthy,
		metric.WithDescription("Latest sequencer health verdict (1 healthy, 0 unhealthy)"),
		metric.WithUnit("{status}"))
	return in
}

// ProviderRequest records one outbound request and its latency.
func (in *Instruments) ProviderRequest(ctx context.Context, adapter string, status int, result string, elapsed time.Duration) {
	if in == nil || in.providerRequests == nil {
		return
	}
	attrs := append(ResultAttributes(adapter, "", result), AttrStatus.Int(status))
	in.providerRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	in.providerDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

// StreamMessage counts an inbound streaming message.
func (in *Instruments) StreamMessage(ctx context.Context, adapter, result string) {
	if in == nil || in.streamMessages == nil {
		return
	}
	in.streamMessages.Add(ctx, 1, metric.WithAttributes(ResultAttributes(adapter, "", result)...))
}

// StreamConnection records a connection state transition.
func (in *Instruments) StreamConnection(ctx context.Context, adapter, state string) {
	if in == nil || in.streamConnections == nil {
		return
	}
	in.streamConnections.Add(ctx, 1, metric.WithAttributes(ConnectionAttributes(adapter, state)...))
}

// SubscriptionDelta adjusts the active subscription count.
func (in *Instruments) SubscriptionDelta(ctx context.Context, adapter, operation string, delta int64) {
	if in == nil || in.subscriptions == nil || delta == 0 {
		return
	}
	attrs := append(AdapterAttributes(adapter, ""), AttrOperation.String(operation))
	in.subscriptions.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// CacheLookup counts a cache hit or miss.
func (in *Instruments) CacheLookup(ctx context.Context, backend string, hit bool) {
	if in == nil || in.cacheLookups == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	in.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrCache.String(backend),
		AttrResult.String(result),
	))
}

// SequencerHealth records the latest health verdict for adapter.
func (in *Instruments) SequencerHealth(ctx context.Context, adapter string, healthy bool) {
	if in == nil || in.sequencerHealthy == nil {
		return
	}
	var v int64
	if healthy {
		v = 1
	}
	in.sequencerHealthy.Record(ctx, v, metric.WithAttributes(AdapterAttributes(adapter, "")...))
}

// MigrationAttributes labels a migration run outcome.
func MigrationAttributes(result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrResult.String(result),
	}
}
