package graph

import (
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/types"
)

// New constructs a not-yet-initialized graph backend from configuration.
// Unknown types fail here, at construction, never at first use. An empty
// type returns (nil, nil): the graph layer is optional.
func New(cfg config.GraphConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.GraphMemory:
		return NewInMemoryGraph(InMemoryGraphConfig{}, logger), nil
	case config.GraphRedis:
		return NewRedisGraph(RedisGraphConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger), nil
	default:
		return nil, types.ConfigurationError("unsupported graph backend type: %s", cfg.Type)
	}
}
