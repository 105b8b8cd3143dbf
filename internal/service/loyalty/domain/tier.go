// internal/service/loyalty/domain/tier.go
package domain

import (
	"fmt"
	"sort"
)

// TierLevel 是会员等级，有序：BRONZE < SILVER < GOLD < PLATINUM。
type TierLevel string

const (
	TierBronze   TierLevel = "BRONZE"
	TierSilver   TierLevel = "SILVER"
	TierGold     TierLevel = "GOLD"
	TierPlatinum TierLevel = "PLATINUM"
)

// AllTiers 按从低到高的顺序列出所有等级。
var AllTiers = []TierLevel{TierBronze, TierSilver, TierGold, TierPlatinum}

// Rank 返回等级的序号，未知等级返回 -1。
func (t TierLevel) Rank() int {
	switch t {
	case TierBronze:
		return 0
	case TierSilver:
		return 1
	case TierGold:
		return 2
	case TierPlatinum:
		return 3
	}
	return -1
}

func (t TierLevel) Valid() bool { return t.Rank() >= 0 }

// Above 判断 t 是否严格高于 other。
func (t TierLevel) Above(other TierLevel) bool { return t.Rank() > other.Rank() }

// TierThreshold 是某个等级的准入门槛，三项指标需要同时满足。金额均为最小货币单位。
type TierThreshold struct {
	Tier                TierLevel `yaml:"tier" json:"tier"`
	MinLifetimeSpent    int64     `yaml:"minLifetimeSpent" json:"minLifetimeSpent"`
	MinTotalVisits      int64     `yaml:"minTotalVisits" json:"minTotalVisits"`
	MinCurrentYearSpent int64     `yaml:"minCurrentYearSpent" json:"minCurrentYearSpent"`
}

// TierBenefits 是等级对应的权益，仅用于展示。
type TierBenefits struct {
	DiscountPercent  float64  `yaml:"discountPercent" json:"discountPercent"`
	PointsMultiplier float64  `yaml:"pointsMultiplier" json:"pointsMultiplier"`
	Perks            []string `yaml:"perks" json:"perks"`
}

// TierConfig 等级引擎配置。
type TierConfig struct {
	Thresholds []TierThreshold            `yaml:"thresholds" json:"thresholds"`
	Benefits   map[TierLevel]TierBenefits `yaml:"benefits" json:"benefits"`
}

// TierMetrics 是等级计算的全部输入。
type TierMetrics struct {
	LifetimeSpent    int64
	TotalVisits      int64
	CurrentYearSpent int64
}

// TierEngine 根据累计指标推导等级，是一个纯函数集合。
type TierEngine struct {
	thresholds []TierThreshold // 按等级升序
	benefits   map[TierLevel]TierBenefits
}

// NewTierEngine 校验并创建等级引擎。
// 门槛必须按等级升序排列，且三项指标都不能随等级升高而下降。
func NewTierEngine(cfg TierConfig) (*TierEngine, error) {
	ths := append([]TierThreshold(nil), cfg.Thresholds...)
	sort.SliceStable(ths, func(i, j int) bool { return ths[i].Tier.Rank() < ths[j].Tier.Rank() })

	seen := map[TierLevel]bool{}
	for i, th := range ths {
		if !th.Tier.Valid() || th.Tier == TierBronze {
			return nil, fmt.Errorf("%w: tier threshold for %q is not allowed", ErrInvalidConfig, th.Tier)
		}
		if seen[th.Tier] {
			return nil, fmt.Errorf("%w: duplicate tier threshold %s", ErrInvalidConfig, th.Tier)
		}
		seen[th.Tier] = true
		if th.MinLifetimeSpent < 0 || th.MinTotalVisits < 0 || th.MinCurrentYearSpent < 0 {
			return nil, fmt.Errorf("%w: negative threshold for %s", ErrInvalidConfig, th.Tier)
		}
		if i > 0 {
			prev := ths[i-1]
			if th.MinLifetimeSpent < prev.MinLifetimeSpent ||
				th.MinTotalVisits < prev.MinTotalVisits ||
				th.MinCurrentYearSpent < prev.MinCurrentYearSpent {
				return nil, fmt.Errorf("%w: thresholds for %s must not be lower than %s", ErrInvalidConfig, th.Tier, prev.Tier)
			}
		}
	}

	benefits := make(map[TierLevel]TierBenefits, len(cfg.Benefits))
	for k, v := range cfg.Benefits {
		benefits[k] = v
	}
	return &TierEngine{thresholds: ths, benefits: benefits}, nil
}

func (th TierThreshold) metBy(m TierMetrics) bool {
	return m.LifetimeSpent >= th.MinLifetimeSpent &&
		m.TotalVisits >= th.MinTotalVisits &&
		m.CurrentYearSpent >= th.MinCurrentYearSpent
}

// Evaluate 返回当前指标能够达到的最高等级，默认 BRONZE。
func (e *TierEngine) Evaluate(m TierMetrics) TierLevel {
	for i := len(e.thresholds) - 1; i >= 0; i-- {
		if e.thresholds[i].metBy(m) {
			return e.thresholds[i].Tier
		}
	}
	return TierBronze
}

// TierDecision 是一次等级重算的结果。
// Next 是应当持久化的等级：只会升不会降，降级只以建议的形式出现。
type TierDecision struct {
	Current              TierLevel
	Recommended          TierLevel
	Next                 TierLevel
	Upgraded             bool
	DowngradeRecommended bool
}

// Decide 在当前等级基础上应用单调升级规则。
func (e *TierEngine) Decide(current TierLevel, m TierMetrics) TierDecision {
	if !current.Valid() {
		current = TierBronze
	}
	rec := e.Evaluate(m)
	d := TierDecision{Current: current, Recommended: rec, Next: current}
	switch {
	case rec.Above(current):
		d.Next = rec
		d.Upgraded = true
	case current.Above(rec):
		d.DowngradeRecommended = true
	}
	return d
}

// Requirement 描述升级到下一等级时某一项尚未满足的指标。
type Requirement struct {
	Metric    string  `json:"metric"`
	Required  int64   `json:"required"`
	Current   int64   `json:"current"`
	Remaining int64   `json:"remaining"`
	Progress  float64 `json:"progress"`
}

// NextTierRequirements 是距离下一等级的差距。
type NextTierRequirements struct {
	CurrentTier  TierLevel     `json:"currentTier"`
	NextTier     TierLevel     `json:"nextTier"`
	Requirements []Requirement `json:"requirements"`
}

// NextTierRequirements 返回当前等级之上第一个已配置等级的未满足项；已是最高等级时返回 nil。
func (e *TierEngine) NextTierRequirements(current TierLevel, m TierMetrics) *NextTierRequirements {
	var next *TierThreshold
	for i := range e.thresholds {
		if e.thresholds[i].Tier.Above(current) {
			next = &e.thresholds[i]
			break
		}
	}
	if next == nil {
		return nil
	}

	out := &NextTierRequirements{CurrentTier: current, NextTier: next.Tier, Requirements: []Requirement{}}
	check := func(metric string, required, current int64) {
		if current >= required {
			return
		}
		out.Requirements = append(out.Requirements, Requirement{
			Metric:    metric,
			Required:  required,
			Current:   current,
			Remaining: required - current,
			Progress:  progressPercent(current, required),
		})
	}
	check("lifetimeSpent", next.MinLifetimeSpent, m.LifetimeSpent)
	check("totalVisits", next.MinTotalVisits, m.TotalVisits)
	check("currentYearSpent", next.MinCurrentYearSpent, m.CurrentYearSpent)
	return out
}

// Benefits 返回等级权益，未配置时返回零值。
func (e *TierEngine) Benefits(t TierLevel) TierBenefits {
	return e.benefits[t]
}

func progressPercent(current, required int64) float64 {
	if required <= 0 {
		return 100
	}
	return clamp(float64(current)/float64(required)*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
