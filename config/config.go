// Package config provides configuration loading and validation for memflow.
//
// Configuration precedence: defaults → YAML file → environment variables.
package config

import (
	"time"

	"github.com/BaSui01/memflow/types"
)

// BackendType identifies a concrete storage backend implementation.
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendChromem  BackendType = "chromem"
	BackendRedis    BackendType = "redis"
	BackendSQLite   BackendType = "sqlite"
	BackendPostgres BackendType = "postgres"
	BackendMongo    BackendType = "mongo"
)

// GraphType identifies a knowledge graph backend implementation.
type GraphType string

const (
	GraphMemory GraphType = "memory"
	GraphRedis  GraphType = "redis"
)

// Config is the complete memflow configuration.
type Config struct {
	// EmbeddingDimension is the single vector dimension used by every
	// backend that stores embeddings. Zero means "take it from backend
	// hints"; conflicting hints are a configuration error.
	EmbeddingDimension int `yaml:"embedding_dimension"`

	// MaintenanceInterval is how often the background maintenance task
	// runs decay and consolidation. Zero disables the loop.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// OperationTimeout bounds every call issued to an external backend.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// Tiers configures the three memory tiers.
	Tiers TiersConfig `yaml:"tiers"`

	// Graph configures the shared knowledge graph backend. An empty type
	// disables the graph.
	Graph GraphConfig `yaml:"graph"`

	// MetricsNamespace is the prometheus namespace for the collector.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// TiersConfig holds per-tier configuration.
type TiersConfig struct {
	STM TierConfig `yaml:"stm"`
	MTM TierConfig `yaml:"mtm"`
	LTM TierConfig `yaml:"ltm"`
}

// Tier returns the configuration for the named tier.
func (t *TiersConfig) Tier(name types.Tier) *TierConfig {
	switch name {
	case types.TierSTM:
		return &t.STM
	case types.TierMTM:
		return &t.MTM
	case types.TierLTM:
		return &t.LTM
	}
	return nil
}

// TierConfig is the policy and backend selection for one tier.
type TierConfig struct {
	// Backend selects and configures the physical store.
	Backend BackendConfig `yaml:"backend"`

	// Capacity is the soft item cap; overflow is evicted weakest-first
	// during maintenance. Zero means unbounded.
	Capacity int `yaml:"capacity"`

	// DecayRate is subtracted from each item's strength per maintenance run.
	DecayRate float64 `yaml:"decay_rate"`

	// PromotionThreshold promotes items whose strength reaches it. A value
	// above 1 disables promotion out of this tier.
	PromotionThreshold float64 `yaml:"promotion_threshold"`

	// RetentionFloor demotes (or forgets, for STM) items whose strength
	// falls below it.
	RetentionFloor float64 `yaml:"retention_floor"`
}

// BackendConfig selects a backend type plus its type-specific options.
type BackendConfig struct {
	Type BackendType `yaml:"type"`

	// Dimension is an optional per-backend embedding dimension hint. It
	// must agree with the top-level EmbeddingDimension and with every
	// other hint.
	Dimension int `yaml:"dimension"`

	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// RedisConfig configures Redis-backed stores.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	KeyPrefix  string        `yaml:"key_prefix"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DatabaseConfig configures the relational backend (sqlite or postgres).
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MongoConfig configures the document backend.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// GraphConfig configures the knowledge graph backend.
type GraphConfig struct {
	Type  GraphType   `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// Validate checks tier policy ranges and resolves the embedding dimension.
// It runs eagerly, before any backend is constructed or initialized.
func (c *Config) Validate() error {
	for _, name := range types.Tiers() {
		tc := c.Tiers.Tier(name)
		if tc.Backend.Type == "" {
			return types.ConfigurationError("tier %s: backend type is required", name)
		}
		if tc.DecayRate < 0 || tc.DecayRate > 1 {
			return types.ConfigurationError("tier %s: decay_rate %v out of [0,1]", name, tc.DecayRate)
		}
		if tc.RetentionFloor < 0 || tc.RetentionFloor > 1 {
			return types.ConfigurationError("tier %s: retention_floor %v out of [0,1]", name, tc.RetentionFloor)
		}
		if tc.PromotionThreshold < 0 {
			return types.ConfigurationError("tier %s: promotion_threshold %v is negative", name, tc.PromotionThreshold)
		}
		if tc.Capacity < 0 {
			return types.ConfigurationError("tier %s: capacity %d is negative", name, tc.Capacity)
		}
	}
	if _, err := c.ResolveEmbeddingDimension(); err != nil {
		return err
	}
	return nil
}

// ResolveEmbeddingDimension folds the top-level dimension and all per-tier
// backend hints into one value. Conflicting non-zero hints are a
// configuration error raised before any backend is initialized.
func (c *Config) ResolveEmbeddingDimension() (int, error) {
	resolved := c.EmbeddingDimension
	if resolved < 0 {
		return 0, types.ConfigurationError("embedding_dimension %d is negative", resolved)
	}
	for _, name := range types.Tiers() {
		hint := c.Tiers.Tier(name).Backend.Dimension
		if hint == 0 {
			continue
		}
		if hint < 0 {
			return 0, types.ConfigurationError("tier %s: backend dimension %d is negative", name, hint)
		}
		if resolved == 0 {
			resolved = hint
			continue
		}
		if hint != resolved {
			return 0, types.ConfigurationError(
				"conflicting embedding dimensions: tier %s declares %d, resolved %d", name, hint, resolved)
		}
	}
	return resolved, nil
}
