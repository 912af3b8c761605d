package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/types"
)

func TestNew_KnownTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backendType config.BackendType
		want        any
	}{
		{config.BackendMemory, &InMemoryBackend{}},
		{config.BackendChromem, &ChromemBackend{}},
		{config.BackendRedis, &RedisBackend{}},
		{config.BackendSQLite, &RelationalBackend{}},
		{config.BackendPostgres, &RelationalBackend{}},
		{config.BackendMongo, &MongoBackend{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.backendType), func(t *testing.T) {
			t.Parallel()

			b, err := New(config.BackendConfig{Type: tt.backendType}, 3, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(config.BackendConfig{Type: "cassandra"}, 0, nil)
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
	assert.Contains(t, err.Error(), "cassandra")
}
