// internal/service/loyalty/infrastructure/memory/snapshot_store.go
package memory

import (
	"context"
	"sync"

	"loyaltyhub/internal/service/loyalty/domain"
)

// SnapshotStore 每个客户保存一份健康分快照。
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]domain.HealthSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]domain.HealthSnapshot)}
}

var _ domain.HealthSnapshotStore = (*SnapshotStore)(nil)

func (s *SnapshotStore) Get(_ context.Context, customerID string) (*domain.HealthSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[customerID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *SnapshotStore) Put(_ context.Context, snap domain.HealthSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.CustomerID] = snap
	return nil
}
