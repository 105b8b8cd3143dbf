// internal/service/loyalty/infrastructure/memory/deduplicator.go
package memory

import (
	"context"
	"sync"
	"time"

	"loyaltyhub/internal/service/loyalty/domain/port"
)

// Deduplicator 是进程内的已处理消息表，过期的 key 每 1024 次 Claim 批量清理一次。
type Deduplicator struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	seen  map[string]time.Time
	calls int
}

func NewDeduplicator(ttl time.Duration) *Deduplicator {
	return &Deduplicator{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

var _ port.MessageDeduplicator = (*Deduplicator)(nil)

func (d *Deduplicator) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.calls++
	if d.calls%1024 == 0 {
		for k, exp := range d.seen {
			if d.expired(exp, now) {
				delete(d.seen, k)
			}
		}
	}
	if exp, ok := d.seen[key]; ok && !d.expired(exp, now) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

func (d *Deduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// ttl 为 0 表示永不过期
func (d *Deduplicator) expired(exp, now time.Time) bool {
	return d.ttl > 0 && !now.Before(exp)
}
