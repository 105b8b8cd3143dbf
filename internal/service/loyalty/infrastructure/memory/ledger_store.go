// internal/service/loyalty/infrastructure/memory/ledger_store.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"loyaltyhub/internal/service/loyalty/domain"
)

// LedgerStore 是账户、流水和到店记录的内存实现。
// 同一把互斥锁保护三张"表"，Commit 因此天然是原子的。用于本地运行和测试。
type LedgerStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.LoyaltyAccount
	txs      map[string][]*domain.LoyaltyTransaction
	visits   map[string][]*domain.Visit
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		accounts: make(map[string]*domain.LoyaltyAccount),
		txs:      make(map[string][]*domain.LoyaltyTransaction),
		visits:   make(map[string][]*domain.Visit),
	}
}

var (
	_ domain.AccountRepository = (*LedgerStore)(nil)
	_ domain.LedgerRepository  = (*LedgerStore)(nil)
	_ domain.VisitRepository   = (*LedgerStore)(nil)
)

func (s *LedgerStore) Create(_ context.Context, acc *domain.LoyaltyAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.CustomerID]; ok {
		return domain.ErrAccountExists
	}
	s.accounts[acc.CustomerID] = acc.Clone()
	return nil
}

func (s *LedgerStore) Get(_ context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[customerID]
	if !ok {
		return nil, domain.ErrUnknownCustomer
	}
	return acc.Clone(), nil
}

// casLocked 要求调用方持有写锁。
func (s *LedgerStore) casLocked(acc *domain.LoyaltyAccount) error {
	cur, ok := s.accounts[acc.CustomerID]
	if !ok {
		return domain.ErrUnknownCustomer
	}
	if cur.Version != acc.Version {
		return domain.ErrConcurrentModification
	}
	acc.Version++
	s.accounts[acc.CustomerID] = acc.Clone()
	return nil
}

func (s *LedgerStore) Save(_ context.Context, acc *domain.LoyaltyAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casLocked(acc)
}

func (s *LedgerStore) ListCustomerIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.accounts))
	for id, acc := range s.accounts {
		if acc.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *LedgerStore) List(_ context.Context, f domain.AccountFilter) ([]*domain.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.LoyaltyAccount, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if f.ActiveOnly && !acc.Active {
			continue
		}
		if f.Tier != "" && acc.TierLevel != f.Tier {
			continue
		}
		if f.Segment != "" && acc.Segment != f.Segment {
			continue
		}
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

// Commit 先做版本校验，通过后再追加流水和到店记录，失败时什么都不写。
func (s *LedgerStore) Commit(_ context.Context, m domain.LedgerMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.casLocked(m.Account); err != nil {
		return err
	}
	id := m.Account.CustomerID
	if m.Transaction != nil {
		tx := *m.Transaction
		s.txs[id] = append(s.txs[id], &tx)
	}
	if m.Visit != nil {
		v := *m.Visit
		s.visits[id] = append(s.visits[id], &v)
	}
	return nil
}

func (s *LedgerStore) History(_ context.Context, customerID string) ([]*domain.LoyaltyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTxs(s.txs[customerID]), nil
}

func (s *LedgerStore) Recent(_ context.Context, customerID string, limit int) ([]*domain.LoyaltyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.txs[customerID]
	out := make([]*domain.LoyaltyTransaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		tx := *all[i]
		out = append(out, &tx)
	}
	return out, nil
}

func (s *LedgerStore) Activity(_ context.Context, customerID string, since time.Time) (domain.LedgerActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var a domain.LedgerActivity
	for _, tx := range s.txs[customerID] {
		a.AddTypeSum(tx.Type, tx.PointsChange)
		if tx.Type.IsRedemption() && !tx.CreatedAt.Before(since) {
			a.RedemptionsLast90Days++
		}
	}
	return a, nil
}

func (s *LedgerStore) Totals(_ context.Context, f domain.LedgerFilter) (domain.LedgerTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t domain.LedgerTotals
	for _, txs := range s.txs {
		for _, tx := range txs {
			if f.From != nil && tx.CreatedAt.Before(*f.From) {
				continue
			}
			if f.To != nil && !tx.CreatedAt.Before(*f.To) {
				continue
			}
			t.AddTypeSum(tx.Type, tx.PointsChange)
		}
	}
	return t, nil
}

func (s *LedgerStore) ListSince(_ context.Context, customerID string, since time.Time) ([]*domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Visit
	for _, v := range s.visits[customerID] {
		if !v.VisitedAt.Before(since) {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitedAt.Before(out[j].VisitedAt) })
	return out, nil
}

func copyTxs(in []*domain.LoyaltyTransaction) []*domain.LoyaltyTransaction {
	out := make([]*domain.LoyaltyTransaction, len(in))
	for i, tx := range in {
		c := *tx
		out[i] = &c
	}
	return out
}
