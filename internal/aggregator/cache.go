package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheTTL 聚合结果缓存时间（可接受的数据陈旧窗口）
const DefaultCacheTTL = 60 * time.Second

const cacheKeyPrefix = "fleet:agg"

// resultCache 聚合结果缓存；kv 为 nil 时不缓存
// 缓存读写失败只记录日志，不影响计算结果。
type resultCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

func cacheKey(parts ...string) string {
	return cacheKeyPrefix + ":" + strings.Join(parts, ":")
}

func windowKey(w Window) string {
	return fmt.Sprintf("%d-%d", w.From.UnixNano(), w.To.UnixNano())
}

// load 命中时解码到 out 并返回 true
func (c *resultCache) load(ctx context.Context, key string, out interface{}) bool {
	if c.kv == nil {
		return false
	}
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("Failed to read aggregation cache", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("Failed to decode aggregation cache", zap.String("key", key), zap.Error(err))
		return false
	}
	c.logger.Debug("Aggregation cache hit", zap.String("key", key))
	return true
}

func (c *resultCache) store(ctx context.Context, key string, v interface{}) {
	if c.kv == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode aggregation cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Warn("Failed to write aggregation cache", zap.String("key", key), zap.Error(err))
	}
}
