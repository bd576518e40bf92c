package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrLockHeld 锁已被其他持有者占用
var ErrLockHeld = errors.New("lock held by another owner")

// 仅当值匹配 owner 时删除，避免误删他人在 TTL 过期后重新获取的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock 使用 SET NX 获取带 TTL 的分布式锁
func AcquireLock(ctx context.Context, client *redis.Client, key, owner string, ttl time.Duration) error {
	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// ReleaseLock 释放锁（owner 不匹配时不做任何事）
func ReleaseLock(ctx context.Context, client *redis.Client, key, owner string) error {
	return releaseScript.Run(ctx, client, []string{key}, owner).Err()
}
