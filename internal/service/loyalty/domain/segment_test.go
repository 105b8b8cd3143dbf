package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRFM(t *testing.T) *RFMEngine {
	t.Helper()
	e, err := NewRFMEngine(DefaultEngineConfig().RFM)
	require.NoError(t, err)
	return e
}

func TestRFMEngine_AssignVIP(t *testing.T) {
	e := defaultRFM(t)

	a := e.Assign("cust-1", RFMInput{DaysSinceLastVisit: 3, TotalVisits: 25, LifetimeSpent: 6_000_000}, testNow)

	assert.Equal(t, SegmentVIP, a.Segment)
	assert.InDelta(t, 86.67, a.SegmentScore, 0.001)
	assert.Equal(t, 100.0, a.RecencyScore)
	assert.Equal(t, 80.0, a.FrequencyScore)
	assert.Equal(t, 80.0, a.MonetaryScore)
	assert.Equal(t, []string{
		"segment VIP with score 86.67 (threshold 80.00)",
		"recency dominated with sub-score 100 (last visit 3 days ago)",
	}, a.Reasons)
}

func TestRFMEngine_NeverVisitedIsNew(t *testing.T) {
	e := defaultRFM(t)

	a := e.Assign("cust-1", RFMInput{DaysSinceLastVisit: -1}, testNow)

	assert.Equal(t, SegmentNew, a.Segment)
	assert.Equal(t, 0.0, a.SegmentScore)
	assert.Contains(t, a.Reasons, "no visits recorded yet")
	assert.Contains(t, a.Reasons, "recency contributed nothing (never visited)")
}

func TestRFMEngine_Deterministic(t *testing.T) {
	e := defaultRFM(t)
	in := RFMInput{DaysSinceLastVisit: 45, TotalVisits: 12, LifetimeSpent: 750_000}

	first := e.Assign("cust-1", in, testNow)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, e.Assign("cust-1", in, testNow))
	}
}

func TestRFMEngine_ThresholdBoundaries(t *testing.T) {
	e := defaultRFM(t)

	assert.Equal(t, SegmentVIP, e.SegmentFor(80))
	assert.Equal(t, SegmentRegular, e.SegmentFor(79.99))
	assert.Equal(t, SegmentRegular, e.SegmentFor(50))
	assert.Equal(t, SegmentOccasional, e.SegmentFor(20))
	assert.Equal(t, SegmentNew, e.SegmentFor(19.99))
}

func TestRFMEngine_UpgradeCandidate(t *testing.T) {
	e := defaultRFM(t)

	a := e.Assign("cust-1", RFMInput{DaysSinceLastVisit: 20, TotalVisits: 6, LifetimeSpent: 200_000}, testNow)
	require.Equal(t, SegmentOccasional, a.Segment)

	c := e.UpgradeCandidate(a)
	require.NotNil(t, c)
	assert.Equal(t, SegmentRegular, c.Next)
	assert.InDelta(t, 3.33, c.Gap, 0.001)
	assert.Equal(t, "monetary", c.Lever)

	far := e.Assign("cust-2", RFMInput{DaysSinceLastVisit: 100, TotalVisits: 1, LifetimeSpent: 0}, testNow)
	assert.Nil(t, e.UpgradeCandidate(far))

	top := e.Assign("cust-3", RFMInput{DaysSinceLastVisit: 1, TotalVisits: 60, LifetimeSpent: 20_000_000}, testNow)
	assert.Nil(t, e.UpgradeCandidate(top))
}

func TestRFMEngine_RejectsOverlappingThresholds(t *testing.T) {
	cfg := DefaultEngineConfig().RFM
	cfg.Thresholds = SegmentThresholds{Occasional: 50, Regular: 50, VIP: 80}
	_, err := NewRFMEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultEngineConfig().RFM
	cfg.Weights = RFMWeights{}
	_, err = NewRFMEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
