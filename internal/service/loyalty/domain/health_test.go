package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthConfig(weights map[HealthComponent]float64) HealthConfig {
	cfg := DefaultEngineConfig().Health
	cfg.Weights = weights
	return cfg
}

func sampleMetrics() CustomerMetrics {
	last := testNow.Add(-36 * 24 * time.Hour)
	return CustomerMetrics{
		CustomerID:            "cust-1",
		AsOf:                  testNow,
		LastVisitAt:           &last,
		DaysSinceLastVisit:    36,
		TotalVisits:           14,
		VisitsLast90Days:      3,
		VisitsPrior90Days:     4,
		SpendLast90Days:       250_000,
		SpendPrior90Days:      200_000,
		PointsEarned:          1000,
		PointsRedeemed:        250,
		RedemptionsLast90Days: 1,
		FeedbackCount:         2,
		AverageRating:         4,
		MessagesSent:          4,
		MessagesResponded:     1,
	}
}

func TestHealthEngine_PartialWeightsUseWeightedAverage(t *testing.T) {
	e, err := NewHealthEngine(healthConfig(map[HealthComponent]float64{
		ComponentVisitFrequency: 30,
		ComponentRecency:        20,
	}))
	require.NoError(t, err)

	snap := e.Score(sampleMetrics(), nil)

	assert.Equal(t, 50.0, snap.Components[ComponentVisitFrequency].Score)
	assert.Equal(t, 80.0, snap.Components[ComponentRecency].Score)
	assert.InDelta(t, 62.0, snap.Score, 0.001)
	assert.Equal(t, HealthGood, snap.Level)
	assert.Len(t, snap.Components, 2)
}

func TestHealthEngine_WeightedAverageForEverySubset(t *testing.T) {
	m := sampleMetrics()
	for mask := 1; mask < 1<<len(AllHealthComponents); mask++ {
		weights := map[HealthComponent]float64{}
		for i, c := range AllHealthComponents {
			if mask&(1<<i) != 0 {
				weights[c] = float64(5 + i*3)
			}
		}
		e, err := NewHealthEngine(healthConfig(weights))
		if len(weights) == len(AllHealthComponents) {
			// 全量配置必须合计 100
			assert.ErrorIs(t, err, ErrInvalidConfig)
			continue
		}
		require.NoError(t, err)

		snap := e.Score(m, nil)
		var sum, wsum float64
		for _, c := range snap.Components {
			sum += c.Score * c.Weight
			wsum += c.Weight
		}
		assert.InDelta(t, sum/wsum, snap.Score, 0.01, "mask %b", mask)
		assert.GreaterOrEqual(t, snap.Score, 0.0)
		assert.LessOrEqual(t, snap.Score, 100.0)
	}
}

func TestHealthEngine_ComponentFormulas(t *testing.T) {
	e, err := NewHealthEngine(DefaultEngineConfig().Health)
	require.NoError(t, err)

	snap := e.Score(sampleMetrics(), nil)
	c := snap.Components

	// 0.7 * 50 + 0.3 * (50 + 50 * 0.25)
	assert.InDelta(t, 53.75, c[ComponentSpendingBehavior].Score, 0.001)
	// 60 * (0.25 / 0.5) + 40 * (1 / 2)
	assert.InDelta(t, 50.0, c[ComponentLoyaltyEngagement].Score, 0.001)
	assert.InDelta(t, 75.0, c[ComponentFeedbackSentiment].Score, 0.001)
	assert.InDelta(t, 25.0, c[ComponentCommunicationResponsiveness].Score, 0.001)
	for _, cs := range c {
		assert.Equal(t, TrendStable, cs.Trend, "first computation has no baseline")
	}
}

func TestHealthEngine_NeutralWithoutSignals(t *testing.T) {
	e, err := NewHealthEngine(DefaultEngineConfig().Health)
	require.NoError(t, err)

	snap := e.Score(CustomerMetrics{CustomerID: "cust-1", AsOf: testNow, DaysSinceLastVisit: -1}, nil)

	assert.Equal(t, 50.0, snap.Components[ComponentFeedbackSentiment].Score)
	assert.Equal(t, 50.0, snap.Components[ComponentCommunicationResponsiveness].Score)
	assert.Equal(t, 0.0, snap.Components[ComponentRecency].Score)
	assert.Equal(t, HealthPoor, snap.Level)
}

func TestHealthEngine_TrendAgainstPreviousSnapshot(t *testing.T) {
	e, err := NewHealthEngine(healthConfig(map[HealthComponent]float64{
		ComponentVisitFrequency: 50,
		ComponentRecency:        50,
	}))
	require.NoError(t, err)
	prev := &HealthSnapshot{Components: map[HealthComponent]ComponentScore{
		ComponentVisitFrequency: {Score: 40, Trend: TrendStable},
		ComponentRecency:        {Score: 90, Trend: TrendStable},
	}}

	snap := e.Score(sampleMetrics(), prev)

	assert.Equal(t, TrendImproving, snap.Components[ComponentVisitFrequency].Trend)
	assert.Equal(t, TrendDeclining, snap.Components[ComponentRecency].Trend)

	// 与上一次快照相比没有变化，趋势回到 STABLE
	again := e.Score(sampleMetrics(), &snap)
	for c, cs := range again.Components {
		assert.Equal(t, TrendStable, cs.Trend, "component %s", c)
	}
	assert.True(t, again.SameScores(&snap))
	assert.False(t, again.SameScores(prev))
	assert.False(t, again.SameScores(nil))

	near := &HealthSnapshot{Components: map[HealthComponent]ComponentScore{
		ComponentVisitFrequency: {Score: 46},
	}}
	assert.Equal(t, TrendStable, e.Score(sampleMetrics(), near).Components[ComponentVisitFrequency].Trend)
}

func TestNewHealthEngine_Validation(t *testing.T) {
	_, err := NewHealthEngine(healthConfig(map[HealthComponent]float64{ComponentRecency: 0}))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewHealthEngine(healthConfig(map[HealthComponent]float64{ComponentRecency: 60, ComponentVisitFrequency: 60}))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewHealthEngine(healthConfig(map[HealthComponent]float64{"mood": 10}))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultEngineConfig().Health
	cfg.Levels = HealthLevels{Excellent: 60, Good: 60, Fair: 40}
	_, err = NewHealthEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
