package aggregator_test

import (
	"context"
	"testing"
	"time"

	agg "fleet-telemetry/internal/aggregator"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestRedisKVStore_GetSetAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := agg.NewRedisKVStore(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, agg.ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, agg.ErrCacheMiss)
}

func TestRedisKVStore_ZeroTTLAndConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var kv agg.KVStore = agg.NewRedisKVStore(client)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "forever", "v", 0))
	mr.FastForward(24 * time.Hour)
	got, err := kv.Get(ctx, "forever")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	// 连接失败不是缓存未命中
	mr.Close()
	_, err = kv.Get(ctx, "forever")
	require.Error(t, err)
	require.NotErrorIs(t, err, agg.ErrCacheMiss)
}
