package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
)

func TestOptions(t *testing.T) {
	opts, err := options(config.RedisConfig{Addr: "localhost:6379", PoolSize: 8})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 8, opts.PoolSize)

	opts, err = options(config.RedisConfig{Addr: "redis://:secret@cache.internal:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = options(config.RedisConfig{Addr: "redis://cache.internal:6380/2", DB: 4, Password: "override"})
	require.NoError(t, err)
	assert.Equal(t, 4, opts.DB)
	assert.Equal(t, "override", opts.Password)

	_, err = options(config.RedisConfig{Addr: "redis://cache.internal:6380/notadb"})
	assert.Error(t, err)
}
