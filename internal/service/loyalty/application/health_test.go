package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/domain"
)

func TestHealthScoreForActiveCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1")
	f.visit(t, "c-1", 300_000)

	view, err := f.svc.GetCustomerHealthScore(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, view.Components, len(domain.AllHealthComponents))
	assert.GreaterOrEqual(t, view.HealthScore, 0.0)
	assert.LessOrEqual(t, view.HealthScore, 100.0)
	assert.Contains(t, []domain.HealthLevel{domain.HealthExcellent, domain.HealthGood, domain.HealthFair, domain.HealthPoor}, view.HealthLevel)
	assert.Len(t, view.RiskAssessment, len(domain.AllRiskCategories))
	assert.Equal(t, int64(300_000*365/90), view.PredictionModels.ProjectedAnnualValue)
	assert.Nil(t, view.PredictionModels.NextVisitExpectedAt)

	// 重算链已经写入快照，读取不会覆盖它
	snap, err := f.snaps.Get(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, view.HealthScore, snap.Score)
}

func TestHealthPredictsNextVisitFromInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1")
	for _, daysAgo := range []int{20, 10, 0} {
		_, err := f.svc.RecordVisit(ctx, RecordVisitRequest{
			CustomerID:  "c-1",
			AmountSpent: 10_000,
			VisitedAt:   testNow.Add(-time.Duration(daysAgo) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	view, err := f.svc.GetCustomerHealthScore(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, view.PredictionModels.NextVisitExpectedAt)
	assert.Equal(t, testNow.Add(10*24*time.Hour), *view.PredictionModels.NextVisitExpectedAt)
}

func TestHealthTrendSettlesAfterUnchangedRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1")
	f.visit(t, "c-1", 200_000)

	snap, err := f.snaps.Get(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, domain.TrendImproving, snap.Components[domain.ComponentVisitFrequency].Trend)

	for i := 0; i < 3; i++ {
		_, err := f.svc.RefreshCustomer(ctx, "c-1")
		require.NoError(t, err)
	}

	snap, err = f.snaps.Get(ctx, "c-1")
	require.NoError(t, err)
	for c, cs := range snap.Components {
		assert.Equal(t, domain.TrendStable, cs.Trend, "stored component %s", c)
	}
	view, err := f.svc.GetCustomerHealthScore(ctx, "c-1")
	require.NoError(t, err)
	for c, cs := range view.Components {
		assert.Equal(t, domain.TrendStable, cs.Trend, "reported component %s", c)
	}
}

func TestHealthScoreUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetCustomerHealthScore(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownCustomer)
}

func TestLoyaltyStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1", "c-2", "c-3")

	f.visit(t, "c-1", 6_000_000) // 60,000 积分，升到 GOLD
	_, err := f.svc.AddPoints(ctx, AddPointsRequest{CustomerID: "c-2", Points: 300, Description: "referral", TransactionType: domain.TxEarnedReferral})
	require.NoError(t, err)
	_, err = f.svc.RedeemPoints(ctx, RedeemPointsRequest{CustomerID: "c-2", PointsToRedeem: 100, Description: "discount"})
	require.NoError(t, err)
	_, err = f.svc.AdjustPoints(ctx, AdjustPointsRequest{CustomerID: "c-3", Delta: 7, Reason: "goodwill"})
	require.NoError(t, err)

	stats, err := f.svc.GetLoyaltyStatistics(ctx, StatisticsFilter{TopN: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(60_300), stats.TotalPointsIssued)
	assert.Equal(t, int64(100), stats.TotalPointsRedeemed)
	assert.Equal(t, int64(7), stats.NetAdjustments)
	assert.Equal(t, int64(60_207), stats.ActivePoints)
	assert.Equal(t, 3, stats.CustomerCount)
	assert.InDelta(t, 20_069.0, stats.AveragePointsPerCustomer, 0.001)
	require.Len(t, stats.TopLoyaltyCustomers, 2)
	assert.Equal(t, "c-1", stats.TopLoyaltyCustomers[0].CustomerID)
	assert.Equal(t, "c-2", stats.TopLoyaltyCustomers[1].CustomerID)
	assert.Equal(t, 1, stats.TierDistribution[domain.TierGold])
	assert.Equal(t, 2, stats.TierDistribution[domain.TierBronze])
	assert.Equal(t, 0, stats.TierDistribution[domain.TierPlatinum])

	gold, err := f.svc.GetLoyaltyStatistics(ctx, StatisticsFilter{Tier: domain.TierGold})
	require.NoError(t, err)
	assert.Equal(t, 1, gold.CustomerCount)
	assert.Equal(t, int64(60_000), gold.ActivePoints)

	future := testNow.Add(time.Hour)
	empty, err := f.svc.GetLoyaltyStatistics(ctx, StatisticsFilter{From: &future})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalPointsIssued)

	past := testNow.Add(-time.Hour)
	_, err = f.svc.GetLoyaltyStatistics(ctx, StatisticsFilter{From: &future, To: &past})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
