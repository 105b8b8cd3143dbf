// internal/service/loyalty/infrastructure/memory/segment_store.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"loyaltyhub/internal/service/loyalty/domain"
)

// maxMovements 是内存中保留的分群变化条数上限。
const maxMovements = 1000

type SegmentStore struct {
	mu          sync.RWMutex
	assignments map[string]domain.SegmentAssignment
	movements   []domain.SegmentMovement
}

func NewSegmentStore() *SegmentStore {
	return &SegmentStore{assignments: make(map[string]domain.SegmentAssignment)}
}

var _ domain.SegmentRepository = (*SegmentStore)(nil)

func (s *SegmentStore) SaveAssignment(_ context.Context, a domain.SegmentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Reasons = append([]string(nil), a.Reasons...)
	s.assignments[a.CustomerID] = a
	return nil
}

func (s *SegmentStore) GetAssignment(_ context.Context, customerID string) (*domain.SegmentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[customerID]
	if !ok {
		return nil, nil
	}
	a.Reasons = append([]string(nil), a.Reasons...)
	return &a, nil
}

func (s *SegmentStore) ListAssignments(_ context.Context) ([]domain.SegmentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SegmentAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (s *SegmentStore) AppendMovement(_ context.Context, m domain.SegmentMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, m)
	if over := len(s.movements) - maxMovements; over > 0 {
		s.movements = append([]domain.SegmentMovement(nil), s.movements[over:]...)
	}
	return nil
}

// RecentMovements 按时间倒序返回。
func (s *SegmentStore) RecentMovements(_ context.Context, limit int) ([]domain.SegmentMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SegmentMovement, 0, min(limit, len(s.movements)))
	for i := len(s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.movements[i])
	}
	return out, nil
}

// CustomSegmentStore 自定义分群定义和成员的内存实现。
type CustomSegmentStore struct {
	mu      sync.RWMutex
	defs    map[string]*domain.CustomSegmentDefinition
	members map[string]map[string]struct{}
}

func NewCustomSegmentStore() *CustomSegmentStore {
	return &CustomSegmentStore{
		defs:    make(map[string]*domain.CustomSegmentDefinition),
		members: make(map[string]map[string]struct{}),
	}
}

var _ domain.CustomSegmentRepository = (*CustomSegmentStore)(nil)

func (s *CustomSegmentStore) Create(_ context.Context, def *domain.CustomSegmentDefinition, members []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *def
	s.defs[def.ID] = &c
	set := make(map[string]struct{}, len(members))
	for _, id := range members {
		set[id] = struct{}{}
	}
	s.members[def.ID] = set
	return nil
}

func (s *CustomSegmentStore) Get(_ context.Context, id string) (*domain.CustomSegmentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, domain.ErrSegmentNotFound
	}
	c := *def
	return &c, nil
}

func (s *CustomSegmentStore) List(_ context.Context, activeOnly bool) ([]*domain.CustomSegmentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.CustomSegmentDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		if activeOnly && !def.IsActive {
			continue
		}
		c := *def
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *CustomSegmentStore) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return domain.ErrSegmentNotFound
	}
	def.IsActive = active
	def.UpdatedAt = at
	return nil
}

func (s *CustomSegmentStore) ReplaceMembers(_ context.Context, segmentID string, customerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(customerIDs))
	for _, id := range customerIDs {
		set[id] = struct{}{}
	}
	s.members[segmentID] = set
	return nil
}

func (s *CustomSegmentStore) SetMembership(_ context.Context, segmentID, customerID string, member bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[segmentID]
	if !ok {
		set = make(map[string]struct{})
		s.members[segmentID] = set
	}
	if member {
		set[customerID] = struct{}{}
	} else {
		delete(set, customerID)
	}
	return nil
}

func (s *CustomSegmentStore) Members(_ context.Context, segmentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members[segmentID]))
	for id := range s.members[segmentID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
