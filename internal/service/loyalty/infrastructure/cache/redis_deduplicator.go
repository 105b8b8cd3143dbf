// internal/service/loyalty/infrastructure/cache/redis_deduplicator.go
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/redis"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// RedisDeduplicator 用 SET NX 记录已处理的消息 key，ttl 覆盖 Kafka 可能重新投递的窗口。
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

var _ port.MessageDeduplicator = (*RedisDeduplicator)(nil)

func dedupKey(key string) string {
	return "loyalty:processed:" + key
}

func (d *RedisDeduplicator) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.GetClient().SetNX(ctx, dedupKey(key), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "claim message %s", key)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.GetClient().Del(ctx, dedupKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "release message %s", key)
	}
	return nil
}
