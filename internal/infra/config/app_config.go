// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the gateway's HTTP surface.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig selects the log level, format and sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// RedisConfig addresses the redis result cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CacheConfig chooses where reconciled results are kept for serving.
type CacheConfig struct {
	Backend CacheBackend  `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RESTConfig tunes the outbound provider client.
type RESTConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	BreakerFailures  uint32        `yaml:"breakerFailures"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
	MaxResponseBytes int64         `yaml:"maxResponseBytes"`
}

// StreamConfig controls websocket subscription bookkeeping.
type StreamConfig struct {
	SubscriptionTTL time.Duration       `yaml:"subscriptionTTL"`
	UnknownSymbols  UnknownSymbolPolicy `yaml:"unknownSymbols"`
	ReconnectMax    time.Duration       `yaml:"reconnectMax"`
	PingInterval    time.Duration       `yaml:"pingInterval"`
}

// AdapterConfig carries per-adapter settings and the selected rate-limit tier.
type AdapterConfig struct {
	Enabled  *bool          `yaml:"enabled"`
	Tier     string         `yaml:"tier"`
	Settings map[string]any `yaml:"settings"`
}

// IsEnabled reports whether the adapter should be started; adapters are enabled unless disabled explicitly.
func (c AdapterConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/pricebridge"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified pricebridge configuration sourced from YAML.
type AppConfig struct {
	Environment Environment              `yaml:"environment"`
	Server      ServerConfig             `yaml:"server"`
	Logging     LoggingConfig            `yaml:"logging"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
	Cache       CacheConfig              `yaml:"cache"`
	REST        RESTConfig               `yaml:"rest"`
	Stream      StreamConfig             `yaml:"stream"`
	Database    DatabaseConfig           `yaml:"database"`
	Adapters    map[string]AdapterConfig `yaml:"adapters"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Telemetry: TelemetryConfig{
			ServiceName:   "pricebridge",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
	}
	_ = cfg.normalise()
	return cfg
}

// AdapterNames returns the configured adapter identifiers in sorted order.
func (c AppConfig) AdapterNames() []string {
	names := make([]string, 0, len(c.Adapters))
	for name := range c.Adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	cfg.applyEnvOverrides(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when it exists and otherwise returns Default.
// The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	candidate := strings.TrimSpace(configPath)
	if candidate != "" {
		if _, err := os.Stat(candidate); err == nil {
			cfg, err := Load(ctx, candidate)
			return cfg, true, err
		} else if !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, false, fmt.Errorf("stat app config: %w", err)
		}
	}
	cfg := Default()
	cfg.applyEnvOverrides(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, false, err
	}
	return cfg, false, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without overriding existing variables.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func (c *AppConfig) normalise() error {
	normalised := make(map[string]AdapterConfig, len(c.Adapters))
	for key, value := range c.Adapters {
		name := normalizeAdapterName(key)
		if name == "" {
			return fmt.Errorf("adapter name required")
		}
		if _, exists := normalised[name]; exists {
			return fmt.Errorf("duplicate adapter name %q", name)
		}
		value.Tier = strings.ToLower(strings.TrimSpace(value.Tier))
		normalised[name] = value
	}
	c.Adapters = normalised

	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Output = strings.TrimSpace(c.Logging.Output)

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "pricebridge"
	}

	c.Cache.Backend = CacheBackend(strings.ToLower(strings.TrimSpace(string(c.Cache.Backend))))
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 90 * time.Second
	}
	c.Cache.Redis.Addr = strings.TrimSpace(c.Cache.Redis.Addr)
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "pricebridge:"
	}

	if c.REST.Timeout <= 0 {
		c.REST.Timeout = 30 * time.Second
	}
	if c.REST.MaxRetries < 0 {
		c.REST.MaxRetries = 0
	}
	if c.REST.BreakerFailures == 0 {
		c.REST.BreakerFailures = 5
	}
	if c.REST.BreakerCooldown <= 0 {
		c.REST.BreakerCooldown = 30 * time.Second
	}
	if c.REST.MaxResponseBytes <= 0 {
		c.REST.MaxResponseBytes = 8 << 20
	}

	c.Stream.UnknownSymbols = UnknownSymbolPolicy(strings.ToLower(strings.TrimSpace(string(c.Stream.UnknownSymbols))))
	if c.Stream.UnknownSymbols == "" {
		c.Stream.UnknownSymbols = UnknownSymbolsSilent
	}
	if c.Stream.SubscriptionTTL <= 0 {
		c.Stream.SubscriptionTTL = 5 * time.Minute
	}
	if c.Stream.ReconnectMax <= 0 {
		c.Stream.ReconnectMax = 30 * time.Second
	}
	if c.Stream.PingInterval <= 0 {
		c.Stream.PingInterval = 20 * time.Second
	}

	c.Database.applyDefaults()
	return nil
}

// applyEnvOverrides lets deployments keep connection secrets out of YAML.
func (c *AppConfig) applyEnvOverrides(lookup func(string) (string, bool)) {
	if v, ok := lookup("DATABASE_DSN"); ok && strings.TrimSpace(v) != "" {
		c.Database.DSN = strings.TrimSpace(v)
	}
	if v, ok := lookup("REDIS_ADDR"); ok && strings.TrimSpace(v) != "" {
		c.Cache.Redis.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server addr required")
	}
	switch c.Logging.Format {
	case "json", "console", "text":
	default:
		return fmt.Errorf("logging format must be one of json, console, text")
	}
	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging maxAgeDays must be >=0")
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache redis addr required")
		}
	default:
		return fmt.Errorf("cache backend must be one of memory, redis")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be >0")
	}
	switch c.Stream.UnknownSymbols {
	case UnknownSymbolsSilent, UnknownSymbolsWarn:
	default:
		return fmt.Errorf("stream unknownSymbols must be one of silent, warn")
	}
	if c.Stream.SubscriptionTTL <= 0 {
		return fmt.Errorf("stream subscriptionTTL must be >0")
	}
	if c.REST.Timeout <= 0 {
		return fmt.Errorf("rest timeout must be >0")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
