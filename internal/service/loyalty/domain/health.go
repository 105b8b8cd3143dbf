// internal/service/loyalty/domain/health.go
package domain

import (
	"fmt"
	"math"
	"time"
)

// HealthComponent 是健康分的子项名称。
type HealthComponent string

const (
	ComponentVisitFrequency              HealthComponent = "visitFrequency"
	ComponentSpendingBehavior            HealthComponent = "spendingBehavior"
	ComponentLoyaltyEngagement           HealthComponent = "loyaltyEngagement"
	ComponentFeedbackSentiment           HealthComponent = "feedbackSentiment"
	ComponentCommunicationResponsiveness HealthComponent = "communicationResponsiveness"
	ComponentRecency                     HealthComponent = "recency"
)

// AllHealthComponents 是支持的全部子项，输出按此顺序排列。
var AllHealthComponents = []HealthComponent{
	ComponentVisitFrequency,
	ComponentSpendingBehavior,
	ComponentLoyaltyEngagement,
	ComponentFeedbackSentiment,
	ComponentCommunicationResponsiveness,
	ComponentRecency,
}

func (c HealthComponent) Valid() bool {
	for _, v := range AllHealthComponents {
		if v == c {
			return true
		}
	}
	return false
}

type HealthLevel string

const (
	HealthExcellent HealthLevel = "EXCELLENT"
	HealthGood      HealthLevel = "GOOD"
	HealthFair      HealthLevel = "FAIR"
	HealthPoor      HealthLevel = "POOR"
)

type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendStable    Trend = "STABLE"
	TrendDeclining Trend = "DECLINING"
)

// HealthLevels 是健康等级的下界。
type HealthLevels struct {
	Excellent float64 `yaml:"excellent" json:"excellent"`
	Good      float64 `yaml:"good" json:"good"`
	Fair      float64 `yaml:"fair" json:"fair"`
}

// HealthTargets 是各子项打满分所需的目标值。
type HealthTargets struct {
	VisitsPer90Days      int64   `yaml:"visitsPer90Days" json:"visitsPer90Days"`
	SpendPer90Days       int64   `yaml:"spendPer90Days" json:"spendPer90Days"`
	RedeemRatio          float64 `yaml:"redeemRatio" json:"redeemRatio"`
	RedemptionsPer90Days int64   `yaml:"redemptionsPer90Days" json:"redemptionsPer90Days"`
	RecencyHorizonDays   int     `yaml:"recencyHorizonDays" json:"recencyHorizonDays"`
	NeutralScore         float64 `yaml:"neutralScore" json:"neutralScore"`
}

// HealthConfig 健康分配置。Weights 中未出现的子项不参与计算。
type HealthConfig struct {
	Weights          map[HealthComponent]float64 `yaml:"weights" json:"weights"`
	Targets          HealthTargets               `yaml:"targets" json:"targets"`
	Levels           HealthLevels                `yaml:"levels" json:"levels"`
	TrendSensitivity float64                     `yaml:"trendSensitivity" json:"trendSensitivity"`
}

// ComponentScore 是单个子项的得分。
type ComponentScore struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Trend  Trend   `json:"trend"`
}

// HealthSnapshot 是每个客户唯一保存的上一次健康分快照，只用于计算趋势。
type HealthSnapshot struct {
	CustomerID string                             `json:"customerId"`
	Score      float64                            `json:"score"`
	Level      HealthLevel                        `json:"level"`
	Components map[HealthComponent]ComponentScore `json:"components"`
	// Risk 随快照一起保存，用于判断风险等级是否升高
	Risk       map[RiskCategory]RiskAssessment `json:"risk,omitempty"`
	ComputedAt time.Time                       `json:"computedAt"`
}

// HealthEngine 计算加权健康分。
type HealthEngine struct {
	weights     map[HealthComponent]float64
	targets     HealthTargets
	levels      HealthLevels
	sensitivity float64
}

func NewHealthEngine(cfg HealthConfig) (*HealthEngine, error) {
	if len(cfg.Weights) == 0 {
		return nil, fmt.Errorf("%w: at least one health component must be weighted", ErrInvalidConfig)
	}
	var sum float64
	weights := make(map[HealthComponent]float64, len(cfg.Weights))
	for c, w := range cfg.Weights {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: unknown health component %q", ErrInvalidConfig, c)
		}
		if w <= 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: weight for %s must be positive", ErrInvalidConfig, c)
		}
		weights[c] = w
		sum += w
	}
	if sum > 100+1e-9 {
		return nil, fmt.Errorf("%w: health weights sum to %.2f, more than 100", ErrInvalidConfig, sum)
	}
	if len(weights) == len(AllHealthComponents) && math.Abs(sum-100) > 1e-6 {
		return nil, fmt.Errorf("%w: a full health weight set must sum to 100, got %.2f", ErrInvalidConfig, sum)
	}

	l := cfg.Levels
	if !(0 <= l.Fair && l.Fair < l.Good && l.Good < l.Excellent && l.Excellent <= 100) {
		return nil, fmt.Errorf("%w: health levels must satisfy 0 <= fair < good < excellent <= 100", ErrInvalidConfig)
	}
	t := cfg.Targets
	if t.VisitsPer90Days <= 0 || t.SpendPer90Days <= 0 || t.RedeemRatio <= 0 ||
		t.RedemptionsPer90Days <= 0 || t.RecencyHorizonDays <= 0 || !validScore(t.NeutralScore) {
		return nil, fmt.Errorf("%w: health targets must be positive", ErrInvalidConfig)
	}
	if cfg.TrendSensitivity < 0 {
		return nil, fmt.Errorf("%w: negative trend sensitivity", ErrInvalidConfig)
	}
	return &HealthEngine{weights: weights, targets: t, levels: l, sensitivity: cfg.TrendSensitivity}, nil
}

// Components 返回已配置的子项，按固定顺序。
func (e *HealthEngine) Components() []HealthComponent {
	out := make([]HealthComponent, 0, len(e.weights))
	for _, c := range AllHealthComponents {
		if _, ok := e.weights[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func ratio(v, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return clamp(v/target, 0, 1)
}

// componentScore 把指标映射到 0-100。
func (e *HealthEngine) componentScore(c HealthComponent, m CustomerMetrics) float64 {
	t := e.targets
	switch c {
	case ComponentVisitFrequency:
		return 100 * ratio(float64(m.VisitsLast90Days), float64(t.VisitsPer90Days))
	case ComponentSpendingBehavior:
		level := 100 * ratio(float64(m.SpendLast90Days), float64(t.SpendPer90Days))
		momentum := t.NeutralScore
		if m.SpendPrior90Days > 0 {
			change := float64(m.SpendLast90Days-m.SpendPrior90Days) / float64(m.SpendPrior90Days)
			momentum = clamp(50+50*change, 0, 100)
		}
		return 0.7*level + 0.3*momentum
	case ComponentLoyaltyEngagement:
		return 60*ratio(m.RedeemRatio(), t.RedeemRatio) +
			40*ratio(float64(m.RedemptionsLast90Days), float64(t.RedemptionsPer90Days))
	case ComponentFeedbackSentiment:
		if m.FeedbackCount == 0 {
			return t.NeutralScore
		}
		return clamp((m.AverageRating-1)/4*100, 0, 100)
	case ComponentCommunicationResponsiveness:
		if m.MessagesSent == 0 {
			return t.NeutralScore
		}
		return 100 * clamp(m.ResponseRate(), 0, 1)
	case ComponentRecency:
		if m.DaysSinceLastVisit < 0 {
			return 0
		}
		return 100 * (1 - ratio(float64(m.DaysSinceLastVisit), float64(t.RecencyHorizonDays)))
	}
	return 0
}

// LevelFor 根据配置的分界点得出健康等级。
func (e *HealthEngine) LevelFor(score float64) HealthLevel {
	switch {
	case score >= e.levels.Excellent:
		return HealthExcellent
	case score >= e.levels.Good:
		return HealthGood
	case score >= e.levels.Fair:
		return HealthFair
	default:
		return HealthPoor
	}
}

// Score 计算健康分。聚合分是加权平均 Σ(score·weight)/Σ(weight)。
// 趋势与 prev 比较；prev 为空时全部为 STABLE，变化不超过灵敏度时也是 STABLE。
func (e *HealthEngine) Score(m CustomerMetrics, prev *HealthSnapshot) HealthSnapshot {
	out := HealthSnapshot{
		CustomerID: m.CustomerID,
		Components: make(map[HealthComponent]ComponentScore, len(e.weights)),
		ComputedAt: m.AsOf,
	}
	var sum, wsum float64
	for _, c := range e.Components() {
		w := e.weights[c]
		s := round2(e.componentScore(c, m))
		out.Components[c] = ComponentScore{Score: s, Weight: w, Trend: e.trend(c, s, prev)}
		sum += s * w
		wsum += w
	}
	out.Score = round2(sum / wsum)
	out.Level = e.LevelFor(out.Score)
	return out
}

func (e *HealthEngine) trend(c HealthComponent, score float64, prev *HealthSnapshot) Trend {
	if prev == nil {
		return TrendStable
	}
	p, ok := prev.Components[c]
	if !ok {
		return TrendStable
	}
	switch d := score - p.Score; {
	case d > e.sensitivity:
		return TrendImproving
	case d < -e.sensitivity:
		return TrendDeclining
	}
	return TrendStable
}

// SameScores 判断两个快照的子项分数是否完全一致。
func (s HealthSnapshot) SameScores(other *HealthSnapshot) bool {
	if other == nil || len(s.Components) != len(other.Components) {
		return false
	}
	for c, v := range s.Components {
		o, ok := other.Components[c]
		if !ok || o.Score != v.Score {
			return false
		}
	}
	return true
}
