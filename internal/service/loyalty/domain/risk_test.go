package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompiler 把表达式文本映射到 Go 函数，避免领域测试依赖具体表达式语言。
type stubCompiler map[string]func(map[string]any) (bool, error)

type stubCondition func(map[string]any) (bool, error)

func (c stubCondition) Eval(f map[string]any) (bool, error) { return c(f) }

func (s stubCompiler) Compile(expr string, _ map[string]FactKind) (Condition, error) {
	fn, ok := s[expr]
	if !ok {
		return nil, errors.New("undeclared expression")
	}
	return stubCondition(fn), nil
}

func churnConfig() RiskConfig {
	return RiskConfig{
		Categories: map[RiskCategory][]RiskFactor{
			RiskChurn: {
				{Name: "inactive", Expression: "inactive", Weight: 60},
				{Name: "drop", Expression: "drop", Weight: 30},
				{Name: "broken", Expression: "broken", Weight: 10},
			},
		},
		Levels: RiskLevels{Medium: 25, High: 50, Critical: 75},
		Mitigations: map[string][]string{
			"inactive": {"win-back offer", "call"},
			"drop":     {"call", "double points"},
		},
	}
}

func churnCompiler() stubCompiler {
	return stubCompiler{
		"inactive": func(f map[string]any) (bool, error) { return f["daysSinceLastVisit"].(float64) > 60, nil },
		"drop": func(f map[string]any) (bool, error) {
			return f["visitsLast90Days"].(float64) < f["visitsPrior90Days"].(float64)*0.5, nil
		},
		"broken": func(map[string]any) (bool, error) { return false, errors.New("no such overload") },
	}
}

func TestRiskEngine_Assess(t *testing.T) {
	e, err := NewRiskEngine(churnConfig(), churnCompiler())
	require.NoError(t, err)
	last := testNow.Add(-75 * 24 * time.Hour)
	m := CustomerMetrics{LastVisitAt: &last, DaysSinceLastVisit: 75, VisitsLast90Days: 1, VisitsPrior90Days: 4}

	out, errs := e.Assess(m)

	require.Len(t, errs, 1, "failing factor is reported, not fatal")
	churn := out[RiskChurn]
	assert.InDelta(t, 90.0, churn.Probability, 0.001)
	assert.Equal(t, RiskCritical, churn.RiskLevel)
	assert.Equal(t, []string{"inactive", "drop"}, churn.PrimaryFactors)
	assert.Equal(t, []string{"win-back offer", "call", "double points"}, churn.MitigationStrategies)
	_, hasValue := out[RiskValue]
	assert.False(t, hasValue)
}

func TestRiskEngine_Reproducible(t *testing.T) {
	e, err := NewRiskEngine(churnConfig(), churnCompiler())
	require.NoError(t, err)
	m := CustomerMetrics{DaysSinceLastVisit: 10, VisitsLast90Days: 3, VisitsPrior90Days: 4}

	first, _ := e.Assess(m)
	second, _ := e.Assess(m)

	assert.Equal(t, first, second)
	assert.Equal(t, RiskLow, first[RiskChurn].RiskLevel)
	assert.Empty(t, first[RiskChurn].PrimaryFactors)
}

func TestNewRiskEngine_ConfigErrors(t *testing.T) {
	cfg := churnConfig()
	cfg.Categories[RiskChurn] = append(cfg.Categories[RiskChurn], RiskFactor{Name: "typo", Expression: "unknown", Weight: 5})
	_, err := NewRiskEngine(cfg, churnCompiler())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = churnConfig()
	cfg.Levels = RiskLevels{Medium: 50, High: 40, Critical: 75}
	_, err = NewRiskEngine(cfg, churnCompiler())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = churnConfig()
	cfg.Categories["loyalty"] = []RiskFactor{{Name: "x", Expression: "inactive", Weight: 1}}
	_, err = NewRiskEngine(cfg, churnCompiler())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEscalated(t *testing.T) {
	prev := map[RiskCategory]RiskAssessment{RiskChurn: {RiskLevel: RiskMedium}, RiskValue: {RiskLevel: RiskHigh}}
	cur := map[RiskCategory]RiskAssessment{
		RiskChurn:      {RiskLevel: RiskHigh},
		RiskEngagement: {RiskLevel: RiskMedium},
		RiskValue:      {RiskLevel: RiskLow},
	}

	assert.Equal(t, []RiskCategory{RiskChurn, RiskEngagement}, Escalated(prev, cur))
	assert.Empty(t, Escalated(cur, cur))
}

func TestPredict(t *testing.T) {
	last := testNow.Add(-5 * 24 * time.Hour)
	m := CustomerMetrics{LastVisitAt: &last, AverageVisitIntervalDays: 10, SpendLast90Days: 90_000}
	risk := map[RiskCategory]RiskAssessment{RiskChurn: {Probability: 30}}

	p := Predict(m, risk)

	require.NotNil(t, p.NextVisitExpectedAt)
	assert.Equal(t, last.Add(10*24*time.Hour), *p.NextVisitExpectedAt)
	assert.Equal(t, int64(365_000), p.ProjectedAnnualValue)
	assert.Equal(t, 30.0, p.ChurnProbability)

	assert.Nil(t, Predict(CustomerMetrics{}, nil).NextVisitExpectedAt)
}
