package storage

import (
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/types"
)

// New maps a configuration-declared backend type to a constructed,
// not-yet-initialized backend instance. An unknown type is a
// ConfigurationError raised here, never deferred to first use.
//
// dimension is the manager's resolved embedding dimension; zero disables
// vector validation.
func New(cfg config.BackendConfig, dimension int, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Type {
	case config.BackendMemory:
		return NewInMemoryBackend(InMemoryConfig{Dimension: dimension}, logger), nil

	case config.BackendChromem:
		return NewChromemBackend(ChromemConfig{Dimension: dimension}, logger)

	case config.BackendRedis:
		return NewRedisBackend(RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			DefaultTTL: cfg.Redis.DefaultTTL,
			Dimension:  dimension,
		}, logger), nil

	case config.BackendSQLite, config.BackendPostgres:
		return NewRelationalBackend(RelationalConfig{
			Driver:          string(cfg.Type),
			DSN:             cfg.Database.DSN,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			Dimension:       dimension,
		}, logger), nil

	case config.BackendMongo:
		return NewMongoBackend(MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Dimension:  dimension,
		}, logger), nil

	default:
		return nil, types.ConfigurationError("unsupported storage backend type: %s", cfg.Type)
	}
}
