// internal/service/loyalty/domain/config.go
package domain

import (
	"fmt"
)

// LedgerConfig 账本相关配置。
type LedgerConfig struct {
	// PointsPerUnit 是兑换 1 积分所需的消费金额（最小货币单位）
	PointsPerUnit           int64 `yaml:"pointsPerUnit" json:"pointsPerUnit"`
	TransactionHistoryLimit int   `yaml:"transactionHistoryLimit" json:"transactionHistoryLimit"`
}

// EngineConfig 是所有引擎的配置，全部断点都来自这里，代码中不内联魔法数字。
type EngineConfig struct {
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`
	Tiers  TierConfig   `yaml:"tiers" json:"tiers"`
	RFM    RFMConfig    `yaml:"rfm" json:"rfm"`
	Health HealthConfig `yaml:"health" json:"health"`
	Risk   RiskConfig   `yaml:"risk" json:"risk"`
}

// Engines 是一组根据同一份配置构建的引擎，构建后只读，可以并发使用。
type Engines struct {
	Config EngineConfig
	Tier   *TierEngine
	RFM    *RFMEngine
	Health *HealthEngine
	Risk   *RiskEngine
}

// NewEngines 校验配置并构建全部引擎。任何一项不合法都会返回 ErrInvalidConfig。
func NewEngines(cfg EngineConfig, compiler ConditionCompiler) (*Engines, error) {
	if cfg.Ledger.PointsPerUnit <= 0 {
		return nil, fmt.Errorf("%w: ledger.pointsPerUnit must be positive", ErrInvalidConfig)
	}
	if cfg.Ledger.TransactionHistoryLimit <= 0 {
		return nil, fmt.Errorf("%w: ledger.transactionHistoryLimit must be positive", ErrInvalidConfig)
	}
	tier, err := NewTierEngine(cfg.Tiers)
	if err != nil {
		return nil, err
	}
	rfm, err := NewRFMEngine(cfg.RFM)
	if err != nil {
		return nil, err
	}
	health, err := NewHealthEngine(cfg.Health)
	if err != nil {
		return nil, err
	}
	risk, err := NewRiskEngine(cfg.Risk, compiler)
	if err != nil {
		return nil, err
	}
	return &Engines{Config: cfg, Tier: tier, RFM: rfm, Health: health, Risk: risk}, nil
}

// Validate 以构建引擎的方式校验配置，用于配置加载和热更新前的检查。
func (c EngineConfig) Validate(compiler ConditionCompiler) error {
	_, err := NewEngines(c, compiler)
	return err
}

// DefaultEngineConfig 返回内置的默认配置，与 configs/loyalty-service.yaml 保持一致。
// 金额门槛以最小货币单位表示：SILVER 1,000,000 即 10,000.00。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Ledger: LedgerConfig{PointsPerUnit: 100, TransactionHistoryLimit: 50},
		Tiers: TierConfig{
			Thresholds: []TierThreshold{
				{Tier: TierSilver, MinLifetimeSpent: 1_000_000},
				{Tier: TierGold, MinLifetimeSpent: 5_000_000},
				{Tier: TierPlatinum, MinLifetimeSpent: 15_000_000},
			},
			Benefits: map[TierLevel]TierBenefits{
				TierBronze:   {DiscountPercent: 0, PointsMultiplier: 1, Perks: []string{"birthday bonus"}},
				TierSilver:   {DiscountPercent: 5, PointsMultiplier: 1.25, Perks: []string{"birthday bonus", "priority booking"}},
				TierGold:     {DiscountPercent: 10, PointsMultiplier: 1.5, Perks: []string{"birthday bonus", "priority booking", "free upgrade"}},
				TierPlatinum: {DiscountPercent: 15, PointsMultiplier: 2, Perks: []string{"birthday bonus", "priority booking", "free upgrade", "dedicated host"}},
			},
		},
		RFM: RFMConfig{
			RecencyBuckets: []RecencyBucket{
				{MaxDays: 7, Score: 100},
				{MaxDays: 30, Score: 80},
				{MaxDays: 60, Score: 60},
				{MaxDays: 90, Score: 40},
				{MaxDays: 180, Score: 20},
			},
			FrequencyBuckets: []CountBucket{
				{Min: 50, Score: 100},
				{Min: 20, Score: 80},
				{Min: 10, Score: 60},
				{Min: 5, Score: 40},
				{Min: 2, Score: 20},
			},
			MonetaryBuckets: []CountBucket{
				{Min: 10_000_000, Score: 100},
				{Min: 5_000_000, Score: 80},
				{Min: 1_000_000, Score: 60},
				{Min: 500_000, Score: 40},
				{Min: 100_000, Score: 20},
			},
			Weights:    RFMWeights{Recency: 1, Frequency: 1, Monetary: 1},
			Thresholds: SegmentThresholds{Occasional: 20, Regular: 50, VIP: 80},
			UpgradeGap: 10,
		},
		Health: HealthConfig{
			Weights: map[HealthComponent]float64{
				ComponentVisitFrequency:              25,
				ComponentSpendingBehavior:            25,
				ComponentLoyaltyEngagement:           15,
				ComponentFeedbackSentiment:           10,
				ComponentCommunicationResponsiveness: 10,
				ComponentRecency:                     15,
			},
			Targets: HealthTargets{
				VisitsPer90Days:      6,
				SpendPer90Days:       500_000,
				RedeemRatio:          0.5,
				RedemptionsPer90Days: 2,
				RecencyHorizonDays:   180,
				NeutralScore:         50,
			},
			Levels:           HealthLevels{Excellent: 80, Good: 60, Fair: 40},
			TrendSensitivity: 5,
		},
		Risk: RiskConfig{
			Categories: map[RiskCategory][]RiskFactor{
				RiskChurn: {
					{Name: "inactive_60_days", Description: "no visit in the last 60 days", Expression: "hasVisited && daysSinceLastVisit > 60.0", Weight: 40},
					{Name: "never_returned", Description: "registered over 30 days ago without a visit", Expression: "!hasVisited && accountAgeDays > 30.0", Weight: 30},
					{Name: "visit_frequency_drop", Description: "visits halved versus the prior 90 days", Expression: "visitsPrior90Days > 0.0 && visitsLast90Days < visitsPrior90Days * 0.5", Weight: 30},
					{Name: "spend_decline", Description: "spend halved versus the prior 90 days", Expression: "spendPrior90Days > 0.0 && spendLast90Days < spendPrior90Days * 0.5", Weight: 30},
				},
				RiskEngagement: {
					{Name: "no_recent_redemptions", Description: "earned points but redeemed nothing in 90 days", Expression: "pointsEarned > 0.0 && redemptionsLast90Days == 0.0", Weight: 35},
					{Name: "points_hoarding", Description: "large balance with almost no redemptions", Expression: "currentPoints >= 1000.0 && redeemRatio < 0.1", Weight: 25},
					{Name: "unresponsive", Description: "ignores most outreach", Expression: "messagesSent >= 3.0 && responseRate < 0.2", Weight: 25},
					{Name: "negative_feedback", Description: "average rating below 3", Expression: "feedbackCount > 0.0 && averageRating < 3.0", Weight: 15},
				},
				RiskValue: {
					{Name: "low_recent_spend", Description: "spent under 1,000.00 in 90 days", Expression: "hasVisited && spendLast90Days < 100000.0", Weight: 40},
					{Name: "spend_contraction", Description: "spend down 30% versus the prior 90 days", Expression: "spendPrior90Days > 0.0 && spendLast90Days < spendPrior90Days * 0.7", Weight: 35},
					{Name: "tier_at_risk", Description: "metrics no longer support the current tier", Expression: "pendingDowngrade", Weight: 25},
				},
			},
			Levels: RiskLevels{Medium: 25, High: 50, Critical: 75},
			Mitigations: map[string][]string{
				"inactive_60_days":      {"send win-back offer", "personal call from store manager"},
				"never_returned":        {"send first-visit incentive"},
				"visit_frequency_drop":  {"send visit reminder", "offer limited-time double points"},
				"spend_decline":         {"recommend personalised bundles"},
				"no_recent_redemptions": {"remind customer of redeemable rewards"},
				"points_hoarding":       {"highlight high-value redemption options"},
				"unresponsive":          {"switch outreach channel", "reduce message frequency"},
				"negative_feedback":     {"service recovery follow-up"},
				"low_recent_spend":      {"targeted upsell campaign"},
				"spend_contraction":     {"recommend personalised bundles", "tier progress reminder"},
				"tier_at_risk":          {"tier retention reminder with remaining requirements"},
			},
		},
	}
}
