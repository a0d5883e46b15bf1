// Package telemetry provides OpenTelemetry initialization and the gateway's metric instruments.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

const (
	serviceName           = "pricebridge"
	serviceVersion        = "1.0.0"
	defaultEndpoint       = "localhost:4318"
	defaultMetricInterval = 30 * time.Second
	defaultEnvironment    = "development"
)

var (
	envMu             sync.RWMutex
	globalEnvironment string
)

// Config selects whether and where gateway metrics are exported over OTLP/HTTP.
type Config struct {
	Enabled          bool
	EnableMetrics    bool
	OTLPEndpoint     string
	OTLPInsecure     bool
	MetricInterval   time.Duration
	ServiceName      string
	ServiceVersion   string
	ServiceNamespace string
	Environment      string
}

// Overrides carries values from the application config. Empty strings keep the current value.
type Overrides struct {
	Enabled       bool
	EnableMetrics bool
	OTLPEndpoint  string
	OTLPInsecure  bool
	ServiceName   string
	Environment   string
}

// ConfigFromEnv reads the standard OTEL_* variables through lookup.
func ConfigFromEnv(lookup func(string) (string, bool)) Config {
	get := func(key string) string {
		if lookup == nil {
			return ""
		}
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	cfg := Config{
		Enabled:          get("OTEL_ENABLED") == "true",
		EnableMetrics:    get("OTEL_METRICS_ENABLED") != "false",
		OTLPEndpoint:     get("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     get("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		MetricInterval:   defaultMetricInterval,
		ServiceName:      get("OTEL_SERVICE_NAME"),
		ServiceVersion:   serviceVersion,
		ServiceNamespace: get("OTEL_SERVICE_NAMESPACE"),
		Environment:      get("OTEL_RESOURCE_ENVIRONMENT"),
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = defaultEndpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}
	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}
	return cfg
}

// Apply layers application settings over c. Export is on when either side enables it.
func (c Config) Apply(o Overrides) Config {
	c.Enabled = c.Enabled || o.Enabled
	c.EnableMetrics = o.EnableMetrics
	c.OTLPInsecure = c.OTLPInsecure || o.OTLPInsecure
	if v := strings.TrimSpace(o.OTLPEndpoint); v != "" {
		c.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(o.ServiceName); v != "" {
		c.ServiceName = v
	}
	if v := strings.TrimSpace(o.Environment); v != "" {
		c.Environment = v
	}
	return c
}

// exporting reports whether a meter provider should be installed.
func (c Config) exporting() bool {
	return c.Enabled && c.EnableMetrics
}

// collector is the parsed OTLP endpoint.
type collector struct {
	host     string
	path     string
	insecure bool
}

// parseEndpoint accepts host:port or a full http(s) URL. An http scheme implies an insecure exporter.
func parseEndpoint(endpoint string, insecure bool) (collector, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return collector{}, fmt.Errorf("otlp endpoint required")
	}
	if !strings.Contains(endpoint, "://") {
		return collector{host: strings.TrimSuffix(endpoint, "/"), insecure: insecure}, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return collector{}, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		insecure = true
	case "https":
	default:
		return collector{}, fmt.Errorf("otlp endpoint scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return collector{}, fmt.Errorf("otlp endpoint %q has no host", endpoint)
	}
	path := strings.TrimSuffix(u.Path, "/")
	return collector{host: u.Host, path: path, insecure: insecure}, nil
}

func (c collector) options() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.host)}
	if c.path != "" {
		opts = append(opts, otlpmetrichttp.WithURLPath(c.path))
	}
	if c.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

// Provider owns the meter provider, if one was installed.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// NewProvider installs an OTLP meter provider as the global one. Without export,
// Meter falls back to the global no-op meter.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	SetEnvironment(cfg.Environment)
	if !cfg.exporting() {
		return &Provider{config: cfg}, nil
	}

	target, err := parseEndpoint(cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(cfg)...),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	exporter, err := otlpmetrichttp.New(ctx, target.options()...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithView(latencyView()),
	)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, config: cfg}, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		AttrEnvironment.String(normaliseEnvironment(cfg.Environment)),
	}
	if cfg.ServiceNamespace != "" {
		attrs = append(attrs, semconv.ServiceNamespaceKey.String(cfg.ServiceNamespace))
	}
	return attrs
}

// latencyView buckets provider request latency from 5ms to 30s.
func latencyView() sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: MetricProviderDuration, Kind: sdkmetric.InstrumentKindHistogram},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
			Boundaries: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}},
	)
}

// Exporting reports whether metrics leave the process.
func (p *Provider) Exporting() bool {
	return p != nil && p.meterProvider != nil
}

// Shutdown flushes pending metrics and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Exporting() {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

// Meter returns a named meter from the installed provider or the global one.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if !p.Exporting() {
		return otel.Meter(name, opts...)
	}
	return p.meterProvider.Meter(name, opts...)
}

func normaliseEnvironment(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return defaultEnvironment
	}
	return env
}

// SetEnvironment sets the environment label attached to every metric.
func SetEnvironment(env string) {
	envMu.Lock()
	globalEnvironment = normaliseEnvironment(env)
	envMu.Unlock()
}

// Environment returns the environment label attached to every metric.
func Environment() string {
	envMu.RLock()
	defer envMu.RUnlock()
	if globalEnvironment == "" {
		return defaultEnvironment
	}
	return globalEnvironment
}
