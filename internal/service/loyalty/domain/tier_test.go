package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spendOnlyTiers(t *testing.T) *TierEngine {
	t.Helper()
	e, err := NewTierEngine(TierConfig{Thresholds: []TierThreshold{
		{Tier: TierPlatinum, MinLifetimeSpent: 15_000_000},
		{Tier: TierSilver, MinLifetimeSpent: 1_000_000},
		{Tier: TierGold, MinLifetimeSpent: 5_000_000},
	}})
	require.NoError(t, err)
	return e
}

func TestTierEngine_Evaluate(t *testing.T) {
	e := spendOnlyTiers(t)

	assert.Equal(t, TierGold, e.Evaluate(TierMetrics{LifetimeSpent: 6_000_000, TotalVisits: 40}))
	assert.Equal(t, TierBronze, e.Evaluate(TierMetrics{LifetimeSpent: 999_999}))
	assert.Equal(t, TierSilver, e.Evaluate(TierMetrics{LifetimeSpent: 1_000_000}))
	assert.Equal(t, TierPlatinum, e.Evaluate(TierMetrics{LifetimeSpent: 15_000_000}))
}

func TestTierEngine_AllThresholdsRequired(t *testing.T) {
	e, err := NewTierEngine(TierConfig{Thresholds: []TierThreshold{
		{Tier: TierSilver, MinLifetimeSpent: 1000, MinTotalVisits: 5, MinCurrentYearSpent: 500},
	}})
	require.NoError(t, err)

	assert.Equal(t, TierBronze, e.Evaluate(TierMetrics{LifetimeSpent: 5000, TotalVisits: 4, CurrentYearSpent: 5000}))
	assert.Equal(t, TierBronze, e.Evaluate(TierMetrics{LifetimeSpent: 5000, TotalVisits: 10, CurrentYearSpent: 499}))
	assert.Equal(t, TierSilver, e.Evaluate(TierMetrics{LifetimeSpent: 1000, TotalVisits: 5, CurrentYearSpent: 500}))
}

func TestTierEngine_RejectsInvalidConfig(t *testing.T) {
	cases := map[string][]TierThreshold{
		"bronze threshold": {{Tier: TierBronze}},
		"duplicate":        {{Tier: TierGold}, {Tier: TierGold}},
		"decreasing":       {{Tier: TierSilver, MinTotalVisits: 10}, {Tier: TierGold, MinTotalVisits: 5}},
		"negative":         {{Tier: TierSilver, MinLifetimeSpent: -1}},
		"unknown":          {{Tier: "DIAMOND"}},
	}
	for name, ths := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTierEngine(TierConfig{Thresholds: ths})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestTierEngine_MonotonicUnderGrowingMetrics(t *testing.T) {
	e := spendOnlyTiers(t)
	acc := NewLoyaltyAccount("cust-1", testNow)

	prev := acc.TierLevel
	for spend := int64(0); spend <= 20_000_000; spend += 700_000 {
		acc.LifetimeSpent = spend
		acc.TotalVisits++
		d := e.Decide(acc.TierLevel, acc.TierMetrics(testNow))
		acc.ApplyTierDecision(d, testNow)
		assert.GreaterOrEqual(t, acc.TierLevel.Rank(), prev.Rank())
		prev = acc.TierLevel
	}
	assert.Equal(t, TierPlatinum, acc.TierLevel)
}

func TestTierEngine_DecideNeverDowngrades(t *testing.T) {
	e := spendOnlyTiers(t)

	d := e.Decide(TierGold, TierMetrics{LifetimeSpent: 2_000_000})

	assert.Equal(t, TierGold, d.Next)
	assert.Equal(t, TierSilver, d.Recommended)
	assert.True(t, d.DowngradeRecommended)
	assert.False(t, d.Upgraded)
}

func TestTierEngine_NextTierRequirements(t *testing.T) {
	e, err := NewTierEngine(TierConfig{Thresholds: []TierThreshold{
		{Tier: TierSilver, MinLifetimeSpent: 1_000_000, MinTotalVisits: 10},
		{Tier: TierGold, MinLifetimeSpent: 5_000_000, MinTotalVisits: 20},
	}})
	require.NoError(t, err)

	req := e.NextTierRequirements(TierBronze, TierMetrics{LifetimeSpent: 250_000, TotalVisits: 12})
	require.NotNil(t, req)
	assert.Equal(t, TierSilver, req.NextTier)
	require.Len(t, req.Requirements, 1)
	assert.Equal(t, Requirement{Metric: "lifetimeSpent", Required: 1_000_000, Current: 250_000, Remaining: 750_000, Progress: 25}, req.Requirements[0])

	assert.Nil(t, e.NextTierRequirements(TierGold, TierMetrics{}))
	assert.Equal(t, 100.0, progressPercent(5, 0))
}
