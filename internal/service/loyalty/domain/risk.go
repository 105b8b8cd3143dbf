// internal/service/loyalty/domain/risk.go
package domain

import (
	"fmt"
	"math"
	"time"
)

type RiskCategory string

const (
	RiskChurn      RiskCategory = "churn"
	RiskEngagement RiskCategory = "engagement"
	RiskValue      RiskCategory = "value"
)

// AllRiskCategories 输出顺序固定。
var AllRiskCategories = []RiskCategory{RiskChurn, RiskEngagement, RiskValue}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// Condition 是编译后的布尔表达式。
type Condition interface {
	Eval(facts map[string]any) (bool, error)
}

// ConditionCompiler 把文本表达式编译为 Condition，vars 声明表达式可以引用的变量。
// 领域层只依赖这个接口，具体表达式语言由基础设施提供。
type ConditionCompiler interface {
	Compile(expr string, vars map[string]FactKind) (Condition, error)
}

// RiskFactor 是某个风险类别下的一条加权因子。
type RiskFactor struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Expression  string  `yaml:"expression" json:"expression"`
	Weight      float64 `yaml:"weight" json:"weight"`
}

// RiskLevels 是风险等级的下界（概率百分比）。
type RiskLevels struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// RiskConfig 风险评估配置。Mitigations 是因子名到固定挽留策略的静态映射。
type RiskConfig struct {
	Categories  map[RiskCategory][]RiskFactor `yaml:"categories" json:"categories"`
	Levels      RiskLevels                    `yaml:"levels" json:"levels"`
	Mitigations map[string][]string           `yaml:"mitigations" json:"mitigations"`
}

// RiskAssessment 是单个风险类别的评估结果。
type RiskAssessment struct {
	Probability          float64   `json:"probability"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	PrimaryFactors       []string  `json:"primaryFactors"`
	MitigationStrategies []string  `json:"mitigationStrategies"`
}

type compiledFactor struct {
	RiskFactor
	cond Condition
}

// RiskEngine 按类别对加权因子求值，概率为已触发因子权重占总权重的百分比。
type RiskEngine struct {
	categories  map[RiskCategory][]compiledFactor
	levels      RiskLevels
	mitigations map[string][]string
}

// NewRiskEngine 在加载配置时编译全部因子表达式，表达式错误属于配置错误。
func NewRiskEngine(cfg RiskConfig, compiler ConditionCompiler) (*RiskEngine, error) {
	l := cfg.Levels
	if !(0 < l.Medium && l.Medium < l.High && l.High < l.Critical && l.Critical <= 100) {
		return nil, fmt.Errorf("%w: risk levels must satisfy 0 < medium < high < critical <= 100", ErrInvalidConfig)
	}
	e := &RiskEngine{
		categories:  make(map[RiskCategory][]compiledFactor, len(cfg.Categories)),
		levels:      l,
		mitigations: cfg.Mitigations,
	}
	for cat, factors := range cfg.Categories {
		if !validRiskCategory(cat) {
			return nil, fmt.Errorf("%w: unknown risk category %q", ErrInvalidConfig, cat)
		}
		if len(factors) == 0 {
			return nil, fmt.Errorf("%w: risk category %s has no factors", ErrInvalidConfig, cat)
		}
		seen := map[string]bool{}
		for _, f := range factors {
			if f.Name == "" || seen[f.Name] {
				return nil, fmt.Errorf("%w: risk factor names in %s must be unique and non-empty", ErrInvalidConfig, cat)
			}
			seen[f.Name] = true
			if f.Weight <= 0 || math.IsNaN(f.Weight) {
				return nil, fmt.Errorf("%w: risk factor %s must have a positive weight", ErrInvalidConfig, f.Name)
			}
			cond, err := compiler.Compile(f.Expression, RiskVars)
			if err != nil {
				return nil, fmt.Errorf("%w: risk factor %s: %v", ErrInvalidConfig, f.Name, err)
			}
			e.categories[cat] = append(e.categories[cat], compiledFactor{RiskFactor: f, cond: cond})
		}
	}
	return e, nil
}

func validRiskCategory(c RiskCategory) bool {
	for _, v := range AllRiskCategories {
		if v == c {
			return true
		}
	}
	return false
}

func (e *RiskEngine) LevelFor(p float64) RiskLevel {
	switch {
	case p >= e.levels.Critical:
		return RiskCritical
	case p >= e.levels.High:
		return RiskHigh
	case p >= e.levels.Medium:
		return RiskMedium
	}
	return RiskLow
}

// Assess 对每个已配置类别求值。单个因子求值出错按未触发处理，并在 errs 中返回以便记录。
func (e *RiskEngine) Assess(m CustomerMetrics) (out map[RiskCategory]RiskAssessment, errs []error) {
	facts := m.RiskFacts()
	out = make(map[RiskCategory]RiskAssessment, len(e.categories))
	for _, cat := range AllRiskCategories {
		factors, ok := e.categories[cat]
		if !ok {
			continue
		}
		var fired, total float64
		a := RiskAssessment{PrimaryFactors: []string{}, MitigationStrategies: []string{}}
		seenStrategy := map[string]bool{}
		for _, f := range factors {
			total += f.Weight
			hit, err := f.cond.Eval(facts)
			if err != nil {
				errs = append(errs, fmt.Errorf("risk factor %s/%s: %w", cat, f.Name, err))
				continue
			}
			if !hit {
				continue
			}
			fired += f.Weight
			a.PrimaryFactors = append(a.PrimaryFactors, f.Name)
			for _, s := range e.mitigations[f.Name] {
				if !seenStrategy[s] {
					seenStrategy[s] = true
					a.MitigationStrategies = append(a.MitigationStrategies, s)
				}
			}
		}
		a.Probability = round2(fired / total * 100)
		a.RiskLevel = e.LevelFor(a.Probability)
		out[cat] = a
	}
	return out, errs
}

// Escalated 返回相对上一次评估风险等级升高的类别。
func Escalated(prev, cur map[RiskCategory]RiskAssessment) []RiskCategory {
	var out []RiskCategory
	for _, cat := range AllRiskCategories {
		c, ok := cur[cat]
		if !ok {
			continue
		}
		if c.RiskLevel.Rank() > prev[cat].RiskLevel.Rank() {
			out = append(out, cat)
		}
	}
	return out
}

// PredictionModels 是基于快照的简单预测，全部由确定性公式得出。
type PredictionModels struct {
	NextVisitExpectedAt  *time.Time `json:"nextVisitExpectedAt,omitempty"`
	ProjectedAnnualValue int64      `json:"projectedAnnualValue"`
	ChurnProbability     float64    `json:"churnProbability"`
	Basis                string     `json:"basis"`
}

// Predict 用窗口内平均到店间隔估计下次到店，用近 90 天消费线性外推年度价值。
func Predict(m CustomerMetrics, risk map[RiskCategory]RiskAssessment) PredictionModels {
	p := PredictionModels{
		ProjectedAnnualValue: m.SpendLast90Days * 365 / 90,
		ChurnProbability:     risk[RiskChurn].Probability,
		Basis:                "insufficient visit history",
	}
	if m.LastVisitAt != nil && m.AverageVisitIntervalDays > 0 {
		next := m.LastVisitAt.Add(time.Duration(m.AverageVisitIntervalDays * float64(24*time.Hour)))
		p.NextVisitExpectedAt = &next
		p.Basis = fmt.Sprintf("average interval of %.1f days over the last 90 days", m.AverageVisitIntervalDays)
	}
	return p
}
