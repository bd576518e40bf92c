package redis

import (
	"context"
	"testing"
	"time"

	"fleet-telemetry/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLock_AcquireReleaseAndOwnership(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, AcquireLock(ctx, client, "lock:a", "owner-1", time.Minute))
	require.ErrorIs(t, AcquireLock(ctx, client, "lock:a", "owner-2", time.Minute), ErrLockHeld)

	// 非持有者释放无效
	require.NoError(t, ReleaseLock(ctx, client, "lock:a", "owner-2"))
	assert.True(t, mr.Exists("lock:a"))

	require.NoError(t, ReleaseLock(ctx, client, "lock:a", "owner-1"))
	assert.False(t, mr.Exists("lock:a"))
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, AcquireLock(ctx, client, "lock:b", "owner-1", time.Second))
	mr.FastForward(2 * time.Second)
	require.NoError(t, AcquireLock(ctx, client, "lock:b", "owner-2", time.Second))
}

func TestPublishJSONToStream(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	id, err := PublishJSONToStream(ctx, client, "events", map[string]interface{}{"entity": "LogRecord", "written": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"entity":"LogRecord","written":3}`, msgs[0].Values["data"].(string))
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}

func TestPublishToStream_StringifiesValues(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "events", map[string]interface{}{
		"n": 7, "f": 1.5, "ok": true, "obj": map[string]int{"a": 1},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "events", "-", "+").Result()
	require.NoError(t, err)
	v := msgs[0].Values
	assert.Equal(t, "7", v["n"])
	assert.Equal(t, "1.5", v["f"])
	assert.Equal(t, "true", v["ok"])
	assert.Equal(t, `{"a":1}`, v["obj"])
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), &config.RedisConfig{
		Addr:        mr.Addr(),
		PoolSize:    4,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	defer Close(client)
	assert.Equal(t, 4, client.Options().PoolSize)

	addr := mr.Addr()
	mr.Close()
	_, err = Connect(context.Background(), &config.RedisConfig{Addr: addr, DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}
