// internal/service/loyalty/infrastructure/cache/redis_snapshot_store.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"loyaltyhub/internal/pkg/redis"
	"loyaltyhub/internal/service/loyalty/domain"
)

// RedisSnapshotStore 把每个客户上一次的健康分快照保存为一个 JSON 字符串，重算时整体覆盖。
// ttl 为 0 表示不过期；快照丢失只会让下一次趋势回到 STABLE。
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

var _ domain.HealthSnapshotStore = (*RedisSnapshotStore)(nil)

func snapshotKey(customerID string) string {
	return fmt.Sprintf("loyalty:health:{%s}", customerID)
}

func (s *RedisSnapshotStore) Get(ctx context.Context, customerID string) (*domain.HealthSnapshot, error) {
	raw, err := s.client.GetClient().Get(ctx, snapshotKey(customerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get health snapshot %s", customerID)
	}
	var snap domain.HealthSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrapf(err, "decode health snapshot %s", customerID)
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) Put(ctx context.Context, snap domain.HealthSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode health snapshot")
	}
	if err := s.client.GetClient().Set(ctx, snapshotKey(snap.CustomerID), raw, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "put health snapshot %s", snap.CustomerID)
	}
	return nil
}
