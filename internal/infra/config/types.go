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

// StoreBackend selects the correlation store implementation.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendPostgres StoreBackend = "postgres"
	BackendRedis    StoreBackend = "redis"
)

// DedupePolicy selects how poll aggregation treats repeated callbacks.
type DedupePolicy string

const (
	DedupeNone    DedupePolicy = "none"
	DedupePayload DedupePolicy = "payload"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
