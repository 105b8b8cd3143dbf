package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/domain"
)

func TestDefaultRiskFactorsCompile(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	engines, err := domain.NewEngines(cfg, NewCELCompilerAdapter())
	require.NoError(t, err)
	require.NotNil(t, engines.Risk)
}

func TestCompileRejectsUnknownVariable(t *testing.T) {
	_, err := NewCELCompilerAdapter().Compile("lifetimeValue > 1.0", domain.RiskVars)
	assert.Error(t, err)
}

func TestInvalidFactorIsConfigError(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.Risk.Categories[domain.RiskChurn] = []domain.RiskFactor{
		{Name: "broken", Expression: "daysSinceLastVisit >", Weight: 10},
	}
	err := cfg.Validate(NewCELCompilerAdapter())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRiskAssessmentWithCEL(t *testing.T) {
	engines, err := domain.NewEngines(domain.DefaultEngineConfig(), NewCELCompilerAdapter())
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -75)
	m := domain.CustomerMetrics{
		CustomerID:         "c-1",
		AsOf:               now,
		AccountAgeDays:     400,
		LastVisitAt:        &last,
		DaysSinceLastVisit: 75,
		VisitsPrior90Days:  4,
		SpendPrior90Days:   400_000,
		CurrentPoints:      200,
		PointsEarned:       500,
		PointsRedeemed:     300,
	}

	risk, errs := engines.Risk.Assess(m)
	require.Empty(t, errs)

	churn := risk[domain.RiskChurn]
	// inactive_60_days(40) + visit_frequency_drop(30) + spend_decline(30) of 130
	assert.Equal(t, []string{"inactive_60_days", "visit_frequency_drop", "spend_decline"}, churn.PrimaryFactors)
	assert.InDelta(t, 76.92, churn.Probability, 0.001)
	assert.Equal(t, domain.RiskCritical, churn.RiskLevel)
	assert.Contains(t, churn.MitigationStrategies, "send win-back offer")

	value := risk[domain.RiskValue]
	// low_recent_spend(40) + spend_contraction(35) of 100
	assert.Equal(t, []string{"low_recent_spend", "spend_contraction"}, value.PrimaryFactors)
	assert.InDelta(t, 75.0, value.Probability, 0.001)
	assert.Equal(t, domain.RiskCritical, value.RiskLevel)
}
