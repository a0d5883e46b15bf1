package config

import "strings"

// Environment identifies the runtime environment where the gateway operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// CacheBackend names a result cache implementation.
type CacheBackend string

const (
	// CacheMemory keeps results in process.
	CacheMemory CacheBackend = "memory"
	// CacheRedis keeps results in redis.
	CacheRedis CacheBackend = "redis"
)

// UnknownSymbolPolicy controls logging for inbound stream symbols without a subscription.
type UnknownSymbolPolicy string

const (
	UnknownSymbolsSilent UnknownSymbolPolicy = "silent"
	UnknownSymbolsWarn   UnknownSymbolPolicy = "warn"
)

func normalizeAdapterName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
