package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildCustomerMetrics(t *testing.T) {
	day := 24 * time.Hour
	acc := NewLoyaltyAccount("cust-1", testNow.Add(-400*day))
	acc.CurrentPoints = 300
	acc.LifetimeSpent = 900_000
	acc.TotalVisits = 9
	last := testNow.Add(-2 * day)
	acc.LastVisitAt = &last
	acc.YearOfSpend = testNow.Year()
	acc.CurrentYearSpent = 120_000

	visits := []*Visit{
		{VisitedAt: testNow.Add(-2 * day), AmountSpent: 30_000, Rating: 5},
		{VisitedAt: testNow.Add(-22 * day), AmountSpent: 40_000},
		{VisitedAt: testNow.Add(-42 * day), AmountSpent: 50_000, Rating: 3},
		{VisitedAt: testNow.Add(-120 * day), AmountSpent: 70_000},
		{VisitedAt: testNow.Add(-200 * day), AmountSpent: 99_000},
	}
	m := BuildCustomerMetrics(acc, visits,
		LedgerActivity{PointsEarned: 800, PointsRedeemed: 500, RedemptionsLast90Days: 2},
		EngagementSignals{FeedbackCount: 2, AverageRating: 2, MessagesSent: 5, MessagesResponded: 2},
		testNow)

	assert.Equal(t, 2, m.DaysSinceLastVisit)
	assert.Equal(t, 400, m.AccountAgeDays)
	assert.Equal(t, int64(3), m.VisitsLast90Days)
	assert.Equal(t, int64(120_000), m.SpendLast90Days)
	assert.Equal(t, int64(1), m.VisitsPrior90Days)
	assert.Equal(t, int64(70_000), m.SpendPrior90Days)
	assert.Equal(t, 20.0, m.AverageVisitIntervalDays)
	assert.Equal(t, int64(4), m.FeedbackCount)
	assert.Equal(t, 3.0, m.AverageRating)
	assert.InDelta(t, 0.625, m.RedeemRatio(), 1e-9)
	assert.InDelta(t, 0.4, m.ResponseRate(), 1e-9)

	f := m.Facts()
	assert.Equal(t, NumberFact(900_000), f["lifetimeSpent"])
	assert.Equal(t, NumberFact(2), f["lastVisitDays"])
	assert.Equal(t, StringFact("BRONZE"), f["tierLevel"])

	r := m.RiskFacts()
	for name := range RiskVars {
		assert.Contains(t, r, name)
	}
	assert.Len(t, r, len(RiskVars))
}

func TestBuildCustomerMetrics_NeverVisited(t *testing.T) {
	acc := NewLoyaltyAccount("cust-1", testNow.Add(-45*24*time.Hour))

	m := BuildCustomerMetrics(acc, nil, LedgerActivity{}, EngagementSignals{}, testNow)

	assert.Equal(t, -1, m.DaysSinceLastVisit)
	_, ok := m.Facts()["lastVisitDays"]
	assert.False(t, ok)
	assert.Equal(t, 45.0, m.RiskFacts()["daysSinceLastVisit"])
	assert.Equal(t, false, m.RiskFacts()["hasVisited"])
}
