// internal/service/loyalty/infrastructure/lock/zk_locker.go
package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain/port"
	"loyaltyhub/internal/zookeeper"
)

// ZKLocker 用 ZooKeeper 临时顺序节点实现公平的客户锁。
// 与 Redis 锁不同，持有者会话断开后锁立即释放，不依赖过期时间。
type ZKLocker struct {
	conn *zookeeper.Conn
	wait time.Duration
}

func NewZKLocker(conn *zookeeper.Conn, wait time.Duration) *ZKLocker {
	return &ZKLocker{conn: conn, wait: wait}
}

var _ port.CustomerLocker = (*ZKLocker)(nil)

func (l *ZKLocker) Lock(ctx context.Context, customerID string) (func(), error) {
	start := time.Now()
	dl, err := zookeeper.NewDistributedLock(l.conn, customerID, l.wait)
	if err != nil {
		return nil, err
	}
	if err := dl.Lock(ctx); err != nil {
		if errors.Is(err, zookeeper.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, port.ErrLockTimeout
		}
		return nil, err
	}
	metrics.LockWaitSeconds.WithLabelValues("zookeeper").Observe(time.Since(start).Seconds())
	return func() {
		if err := dl.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("failed to release zookeeper customer lock")
		}
	}, nil
}
