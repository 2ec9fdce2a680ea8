package db

import (
	"context"
	"testing"
	"time"

	"uploadsim/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_UnreachableServer(t *testing.T) {
	// Port 1 on loopback refuses connections.
	rdb, err := NewRedis(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	require.Nil(t, rdb)
	require.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestRedisCounter_WindowStartsOnFirstHit(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := NewRedis(ctx, config.RedisConfig{Addr: mr.Addr()})
	req.NoError(err)
	defer rdb.Close()
	counter := NewRedisCounter(rdb)

	count, err := counter.Incr(ctx, "rate:test", time.Minute)
	req.NoError(err)
	req.Equal(int64(1), count)
	req.Equal(time.Minute, mr.TTL("rate:test"))

	mr.FastForward(30 * time.Second)
	count, err = counter.Incr(ctx, "rate:test", time.Minute)
	req.NoError(err)
	req.Equal(int64(2), count)
	// Later hits must not extend the window.
	req.Equal(30*time.Second, mr.TTL("rate:test"))

	mr.FastForward(30 * time.Second)
	req.False(mr.Exists("rate:test"))

	count, err = counter.Incr(ctx, "rate:test", time.Minute)
	req.NoError(err)
	req.Equal(int64(1), count)
	req.Equal(time.Minute, mr.TTL("rate:test"))
}

func TestRedisCounter_KeysAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := NewRedis(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()
	counter := NewRedisCounter(rdb)

	for i := 0; i < 3; i++ {
		_, err := counter.Incr(ctx, "rate:a", time.Minute)
		require.NoError(t, err)
	}
	count, err := counter.Incr(ctx, "rate:b", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
