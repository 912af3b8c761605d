package config

import "time"

// DefaultConfig returns a complete in-process configuration: map-backed
// STM and MTM, an embedded chromem vector index for LTM, and an in-memory
// knowledge graph. Suitable for local development, tests, and quick starts.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingDimension:  0, // resolved from backend hints, or vector-less
		MaintenanceInterval: 5 * time.Minute,
		OperationTimeout:    5 * time.Second,
		MetricsNamespace:    "memflow",
		Tiers: TiersConfig{
			STM: TierConfig{
				Backend:            BackendConfig{Type: BackendMemory},
				Capacity:           100,
				DecayRate:          0.10,
				PromotionThreshold: 0.8,
				RetentionFloor:     0.2,
			},
			MTM: TierConfig{
				Backend:            BackendConfig{Type: BackendMemory},
				Capacity:           1000,
				DecayRate:          0.05,
				PromotionThreshold: 0.9,
				RetentionFloor:     0.1,
			},
			LTM: TierConfig{
				Backend:  BackendConfig{Type: BackendChromem},
				Capacity: 10000,
				DecayRate: 0.01,
				// Above 1: nothing promotes out of the top tier.
				PromotionThreshold: 1.01,
				RetentionFloor:     0.05,
			},
		},
		Graph: GraphConfig{Type: GraphMemory},
	}
}

// DefaultRedisConfig returns the Redis options used when a tier or the
// graph selects a Redis backend without overriding them.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "memflow:",
	}
}
