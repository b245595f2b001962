package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), ClientConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer rdb.Close()

	assert.Equal(t, 10, rdb.Options().PoolSize)
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), ClientConfig{Addr: addr, PoolSize: 2}, zap.NewNop())
	assert.ErrorContains(t, err, "ping redis")
}
