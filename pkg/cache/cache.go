package cache

import (
	"context"
	"encoding/json"
	"time"

	"schoolmed_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 常用缓存前缀。读路径用它们拼 key，写路径按前缀批量失效。
const (
	PrefixOrder        = "med:order:"
	PrefixDoseSchedule = "med:dose:"
	PrefixNotification = "med:notify:"
	PrefixIncident     = "med:incident:"

	SetDoseSchedules = "tracking:dose_schedules"
)

// Cache 基于 Redis 的缓存失效器。核心在每次状态变更后同步调用
// RemoveByPrefix / InvalidateTrackingSet，保证读缓存不会看到旧状态。
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// RemoveByPrefix 按前缀批量删除。SCAN 分批扫描，避免 KEYS 阻塞。
func (c *Cache) RemoveByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// AddToTrackingSet 把缓存 key 登记到跟踪集合，供按标签整组失效。
func (c *Cache) AddToTrackingSet(ctx context.Context, key, set string) error {
	return c.rdb.SAdd(ctx, set, key).Err()
}

// InvalidateTrackingSet 删除集合中登记的全部 key 以及集合本身。
func (c *Cache) InvalidateTrackingSet(ctx context.Context, set string) error {
	keys, err := c.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return c.rdb.Del(ctx, set).Err()
}

// MustInvalidate 失效失败只记日志。状态变更已提交，缓存层错误不应回滚业务。
func (c *Cache) MustInvalidate(ctx context.Context, prefixes ...string) {
	for _, p := range prefixes {
		if err := c.RemoveByPrefix(ctx, p); err != nil {
			logger.Log.Error("cache invalidation failed", zap.String("prefix", p), zap.Error(err))
		}
	}
}
