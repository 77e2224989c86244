// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "airwave:resolve:"

// RedisCache shares resolutions across processes. Keys of one work are
// tracked in a companion set so InvalidateWork needs no SCAN.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Resolution, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, err
	}
	var res Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		// A stale or foreign value is a miss, not an outage.
		return Resolution{}, false, nil
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res Resolution, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, raw, ttl)
	workSet := workSetKey(res.WorkID)
	pipe.SAdd(ctx, workSet, redisKeyPrefix+key)
	pipe.Expire(ctx, workSet, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) InvalidateWork(ctx context.Context, workID int64) error {
	workSet := workSetKey(workID)
	keys, err := c.client.SMembers(ctx, workSet).Result()
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, workSet)
	_, err = pipe.Exec(ctx)
	return err
}

func workSetKey(workID int64) string {
	return redisKeyPrefix + "work:" + strconv.FormatInt(workID, 10)
}
