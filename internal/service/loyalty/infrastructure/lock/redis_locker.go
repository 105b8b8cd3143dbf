// internal/service/loyalty/infrastructure/lock/redis_locker.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/pkg/redis"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

const releaseScriptName = "loyalty_lock_release"

// 只有持有者（token 一致）才能删除锁，防止误删过期后被别人重新获得的锁
var releaseScript = `
-- KEYS[1]: 锁的 Key, 例如: loyalty:lock:{cust-123}
-- ARGV[1]: 加锁时写入的 token
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

var errLockBusy = errors.New("customer lock busy")

// RedisLocker 基于 SET NX PX 的跨实例客户锁。
// ttl 必须大于单次账本写入加重算的最长耗时，锁在持有者崩溃后靠过期释放。
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) (*RedisLocker, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait}, nil
}

var _ port.CustomerLocker = (*RedisLocker)(nil)

func lockKey(customerID string) string {
	return fmt.Sprintf("loyalty:lock:{%s}", customerID)
}

func (l *RedisLocker) Lock(ctx context.Context, customerID string) (func(), error) {
	start := time.Now()
	key := lockKey(customerID)
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.client.GetClient().SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, backoff.Permanent(errors.Wrap(err, "redis setnx"))
		}
		if !ok {
			return false, errLockBusy
		}
		return true, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.wait))
	if err != nil {
		if errors.Is(err, errLockBusy) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, port.ErrLockTimeout
		}
		return nil, err
	}
	metrics.LockWaitSeconds.WithLabelValues("redis").Observe(time.Since(start).Seconds())

	return func() {
		// 释放不跟随调用方 ctx，调用方 ctx 可能已经结束
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.client.RunScript(rctx, releaseScriptName, []string{key}, token); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("failed to release redis customer lock, it will expire")
		}
	}, nil
}
