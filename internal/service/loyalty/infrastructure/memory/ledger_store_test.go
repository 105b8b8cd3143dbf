package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/domain"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCommitIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.Create(ctx, domain.NewLoyaltyAccount("c-1", now)))

	a, err := s.Get(ctx, "c-1")
	require.NoError(t, err)
	b, err := s.Get(ctx, "c-1")
	require.NoError(t, err)

	txA, err := a.Apply(100, domain.TxEarnedBonus, "bonus", "", now)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, domain.LedgerMutation{Account: a, Transaction: txA}))
	assert.Equal(t, int64(1), a.Version)

	// b 基于旧版本，写入必须失败且不留下流水
	txB, err := b.Apply(50, domain.TxEarnedBonus, "bonus", "", now)
	require.NoError(t, err)
	err = s.Commit(ctx, domain.LedgerMutation{Account: b, Transaction: txB})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	history, err := s.History(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	stored, err := s.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FoldBalance(history), stored.CurrentPoints)
}

func TestCreateTwiceAndUnknown(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.Create(ctx, domain.NewLoyaltyAccount("c-1", now)))
	assert.ErrorIs(t, s.Create(ctx, domain.NewLoyaltyAccount("c-1", now)), domain.ErrAccountExists)

	_, err := s.Get(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUnknownCustomer)
}

func TestActivityAndTotals(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	acc := domain.NewLoyaltyAccount("c-1", now)
	require.NoError(t, s.Create(ctx, acc))

	apply := func(delta int64, typ domain.TransactionType, at time.Time) {
		tx, err := acc.Apply(delta, typ, "", "", at)
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx, domain.LedgerMutation{Account: acc, Transaction: tx}))
	}
	apply(1000, domain.TxEarnedPurchase, now.AddDate(0, -6, 0))
	apply(-200, domain.TxRedeemedDiscount, now.AddDate(0, -5, 0))
	apply(-100, domain.TxRedeemedItem, now.AddDate(0, 0, -10))
	apply(-50, domain.TxExpired, now)
	apply(30, domain.TxAdjustmentAdd, now)

	a, err := s.Activity(ctx, "c-1", now.Add(-domain.MetricsWindow))
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerActivity{PointsEarned: 1000, PointsRedeemed: 300, RedemptionsLast90Days: 1}, a)

	totals, err := s.Totals(ctx, domain.LedgerFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerTotals{PointsIssued: 1000, PointsRedeemed: 300, PointsExpired: 50, Adjustments: 30}, totals)

	recent, err := s.Recent(ctx, "c-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, domain.TxAdjustmentAdd, recent[0].Type)
}
