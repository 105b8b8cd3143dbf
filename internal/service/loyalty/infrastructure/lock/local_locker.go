// internal/service/loyalty/infrastructure/lock/local_locker.go
package lock

import (
	"context"
	"sync"
	"time"

	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// LocalLocker 是进程内的按客户加锁实现，适用于单实例部署和测试。
// 每个客户一个容量为 1 的信号量通道，等待可以被 ctx 取消。
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

var _ port.CustomerLocker = (*LocalLocker)(nil)

func (l *LocalLocker) Lock(ctx context.Context, customerID string) (func(), error) {
	start := time.Now()
	l.mu.Lock()
	s, ok := l.slots[customerID]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[customerID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(customerID, s)
		return nil, port.ErrLockTimeout
	}
	metrics.LockWaitSeconds.WithLabelValues("local").Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			l.release(customerID, s)
		})
	}, nil
}

// release 减少引用计数，最后一个使用者负责删除条目，避免 map 无限增长。
func (l *LocalLocker) release(customerID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, customerID)
	}
}
