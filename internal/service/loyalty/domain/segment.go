// internal/service/loyalty/domain/segment.go
package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Segment 是内置的行为分群。
type Segment string

const (
	SegmentNew        Segment = "NEW"
	SegmentOccasional Segment = "OCCASIONAL"
	SegmentRegular    Segment = "REGULAR"
	SegmentVIP        Segment = "VIP"
)

// AllSegments 按从低到高排列。
var AllSegments = []Segment{SegmentNew, SegmentOccasional, SegmentRegular, SegmentVIP}

func (s Segment) Rank() int {
	for i, v := range AllSegments {
		if v == s {
			return i
		}
	}
	return -1
}

// RecencyBucket: 距上次到店天数 <= MaxDays 时得 Score 分。
type RecencyBucket struct {
	MaxDays int     `yaml:"maxDays" json:"maxDays"`
	Score   float64 `yaml:"score" json:"score"`
}

// CountBucket: 指标 >= Min 时得 Score 分。用于频次和消费金额。
type CountBucket struct {
	Min   int64   `yaml:"min" json:"min"`
	Score float64 `yaml:"score" json:"score"`
}

type RFMWeights struct {
	Recency   float64 `yaml:"recency" json:"recency"`
	Frequency float64 `yaml:"frequency" json:"frequency"`
	Monetary  float64 `yaml:"monetary" json:"monetary"`
}

// SegmentThresholds 是分群的下界，从高到低匹配。
type SegmentThresholds struct {
	Occasional float64 `yaml:"occasional" json:"occasional"`
	Regular    float64 `yaml:"regular" json:"regular"`
	VIP        float64 `yaml:"vip" json:"vip"`
}

// RFMConfig RFM 分群配置。
type RFMConfig struct {
	RecencyBuckets   []RecencyBucket   `yaml:"recencyBuckets" json:"recencyBuckets"`
	FrequencyBuckets []CountBucket     `yaml:"frequencyBuckets" json:"frequencyBuckets"`
	MonetaryBuckets  []CountBucket     `yaml:"monetaryBuckets" json:"monetaryBuckets"`
	Weights          RFMWeights        `yaml:"weights" json:"weights"`
	Thresholds       SegmentThresholds `yaml:"thresholds" json:"thresholds"`
	// UpgradeGap 是"可升级客户"报表的分差窗口：距离下一分群不超过该分数的客户会被列出。
	UpgradeGap float64 `yaml:"upgradeGap" json:"upgradeGap"`
}

// RFMInput 是分群计算的输入快照。DaysSinceLastVisit < 0 表示从未到店。
type RFMInput struct {
	DaysSinceLastVisit int
	TotalVisits        int64
	LifetimeSpent      int64
}

// SegmentAssignment 是一次分群的结果，每次运行都整体覆盖上一次的结果。
type SegmentAssignment struct {
	CustomerID     string    `json:"customerId"`
	Segment        Segment   `json:"segment"`
	SegmentScore   float64   `json:"segmentScore"`
	RecencyScore   float64   `json:"recencyScore"`
	FrequencyScore float64   `json:"frequencyScore"`
	MonetaryScore  float64   `json:"monetaryScore"`
	Reasons        []string  `json:"reasons"`
	ComputedAt     time.Time `json:"computedAt"`
}

// SegmentMovement 记录一次分群变化。
type SegmentMovement struct {
	CustomerID string    `json:"customerId"`
	From       Segment   `json:"from"`
	To         Segment   `json:"to"`
	Score      float64   `json:"score"`
	MovedAt    time.Time `json:"movedAt"`
}

// UpgradeCandidate 是距离下一分群很近的客户。Lever 是最弱的子分数，即最值得运营发力的方向。
type UpgradeCandidate struct {
	CustomerID string  `json:"customerId"`
	Current    Segment `json:"current"`
	Next       Segment `json:"next"`
	Score      float64 `json:"score"`
	Gap        float64 `json:"gap"`
	Lever      string  `json:"lever"`
	LeverScore float64 `json:"leverScore"`
}

// RFMEngine 是无状态的分群引擎。相同输入永远得到相同的分群、分数和原因。
type RFMEngine struct {
	recency    []RecencyBucket
	frequency  []CountBucket
	monetary   []CountBucket
	weights    RFMWeights
	thresholds SegmentThresholds
	upgradeGap float64
}

func NewRFMEngine(cfg RFMConfig) (*RFMEngine, error) {
	recency := append([]RecencyBucket(nil), cfg.RecencyBuckets...)
	sort.SliceStable(recency, func(i, j int) bool { return recency[i].MaxDays < recency[j].MaxDays })
	for i, b := range recency {
		if b.MaxDays < 0 || !validScore(b.Score) {
			return nil, fmt.Errorf("%w: recency bucket %d", ErrInvalidConfig, b.MaxDays)
		}
		if i > 0 && recency[i-1].MaxDays == b.MaxDays {
			return nil, fmt.Errorf("%w: duplicate recency bucket %d", ErrInvalidConfig, b.MaxDays)
		}
	}
	frequency, err := sortCountBuckets("frequency", cfg.FrequencyBuckets)
	if err != nil {
		return nil, err
	}
	monetary, err := sortCountBuckets("monetary", cfg.MonetaryBuckets)
	if err != nil {
		return nil, err
	}

	w := cfg.Weights
	if w.Recency < 0 || w.Frequency < 0 || w.Monetary < 0 || w.Recency+w.Frequency+w.Monetary <= 0 {
		return nil, fmt.Errorf("%w: rfm weights must be non-negative with a positive sum", ErrInvalidConfig)
	}
	t := cfg.Thresholds
	if !(0 <= t.Occasional && t.Occasional < t.Regular && t.Regular < t.VIP && t.VIP <= 100) {
		return nil, fmt.Errorf("%w: segment thresholds must satisfy 0 <= occasional < regular < vip <= 100", ErrInvalidConfig)
	}
	if cfg.UpgradeGap < 0 {
		return nil, fmt.Errorf("%w: negative upgrade gap", ErrInvalidConfig)
	}

	return &RFMEngine{
		recency:    recency,
		frequency:  frequency,
		monetary:   monetary,
		weights:    w,
		thresholds: t,
		upgradeGap: cfg.UpgradeGap,
	}, nil
}

func sortCountBuckets(name string, in []CountBucket) ([]CountBucket, error) {
	out := append([]CountBucket(nil), in...)
	// 降序，匹配时取第一个满足的
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min > out[j].Min })
	for i, b := range out {
		if b.Min < 0 || !validScore(b.Score) {
			return nil, fmt.Errorf("%w: %s bucket %d", ErrInvalidConfig, name, b.Min)
		}
		if i > 0 && out[i-1].Min == b.Min {
			return nil, fmt.Errorf("%w: duplicate %s bucket %d", ErrInvalidConfig, name, b.Min)
		}
	}
	return out, nil
}

func validScore(s float64) bool { return s >= 0 && s <= 100 && !math.IsNaN(s) }

func (e *RFMEngine) recencyScore(days int) float64 {
	if days < 0 {
		return 0
	}
	for _, b := range e.recency {
		if days <= b.MaxDays {
			return b.Score
		}
	}
	return 0
}

func countScore(buckets []CountBucket, v int64) float64 {
	for _, b := range buckets {
		if v >= b.Min {
			return b.Score
		}
	}
	return 0
}

// SegmentFor 把综合分映射到分群，从高到低匹配。
func (e *RFMEngine) SegmentFor(score float64) Segment {
	switch {
	case score >= e.thresholds.VIP:
		return SegmentVIP
	case score >= e.thresholds.Regular:
		return SegmentRegular
	case score >= e.thresholds.Occasional:
		return SegmentOccasional
	default:
		return SegmentNew
	}
}

func (e *RFMEngine) lowerBound(s Segment) float64 {
	switch s {
	case SegmentVIP:
		return e.thresholds.VIP
	case SegmentRegular:
		return e.thresholds.Regular
	case SegmentOccasional:
		return e.thresholds.Occasional
	}
	return 0
}

type subScore struct {
	name   string
	score  float64
	weight float64
}

// Assign 计算客户的 RFM 分群。computedAt 由调用方传入，引擎本身不读取时钟。
func (e *RFMEngine) Assign(customerID string, in RFMInput, computedAt time.Time) SegmentAssignment {
	subs := []subScore{
		{"recency", e.recencyScore(in.DaysSinceLastVisit), e.weights.Recency},
		{"frequency", countScore(e.frequency, in.TotalVisits), e.weights.Frequency},
		{"monetary", countScore(e.monetary, in.LifetimeSpent), e.weights.Monetary},
	}

	var sum, wsum float64
	for _, s := range subs {
		sum += s.score * s.weight
		wsum += s.weight
	}
	score := round2(sum / wsum)
	seg := e.SegmentFor(score)

	return SegmentAssignment{
		CustomerID:     customerID,
		Segment:        seg,
		SegmentScore:   score,
		RecencyScore:   subs[0].score,
		FrequencyScore: subs[1].score,
		MonetaryScore:  subs[2].score,
		Reasons:        e.reasons(seg, score, in, subs),
		ComputedAt:     computedAt,
	}
}

// reasons 列出主导本次结果的子分数。按 recency、frequency、monetary 的固定顺序输出，保证可复现。
func (e *RFMEngine) reasons(seg Segment, score float64, in RFMInput, subs []subScore) []string {
	out := []string{fmt.Sprintf("segment %s with score %.2f (threshold %.2f)", seg, score, e.lowerBound(seg))}
	if in.TotalVisits == 0 {
		out = append(out, "no visits recorded yet")
	}

	// 贡献最大的子分数为"主导"项，并列时全部列出
	var best float64
	for _, s := range subs {
		if c := s.score * s.weight; c > best {
			best = c
		}
	}
	for _, s := range subs {
		if s.weight == 0 {
			continue
		}
		c := s.score * s.weight
		switch {
		case best > 0 && c == best:
			out = append(out, fmt.Sprintf("%s dominated with sub-score %.0f (%s)", s.name, s.score, describeInput(s.name, in)))
		case s.score == 0:
			out = append(out, fmt.Sprintf("%s contributed nothing (%s)", s.name, describeInput(s.name, in)))
		}
	}
	return out
}

func describeInput(name string, in RFMInput) string {
	switch name {
	case "recency":
		if in.DaysSinceLastVisit < 0 {
			return "never visited"
		}
		return fmt.Sprintf("last visit %d days ago", in.DaysSinceLastVisit)
	case "frequency":
		return fmt.Sprintf("%d total visits", in.TotalVisits)
	default:
		return fmt.Sprintf("lifetime spend %d", in.LifetimeSpent)
	}
}

// UpgradeCandidate 判断客户是否处于下一分群的分差窗口内；已是最高分群或差距过大时返回 nil。
func (e *RFMEngine) UpgradeCandidate(a SegmentAssignment) *UpgradeCandidate {
	rank := a.Segment.Rank()
	if rank < 0 || rank >= len(AllSegments)-1 {
		return nil
	}
	next := AllSegments[rank+1]
	gap := round2(e.lowerBound(next) - a.SegmentScore)
	if gap > e.upgradeGap {
		return nil
	}

	subs := []subScore{
		{"recency", a.RecencyScore, e.weights.Recency},
		{"frequency", a.FrequencyScore, e.weights.Frequency},
		{"monetary", a.MonetaryScore, e.weights.Monetary},
	}
	lever := subScore{score: math.Inf(1)}
	for _, s := range subs {
		if s.weight > 0 && s.score < lever.score {
			lever = s
		}
	}
	return &UpgradeCandidate{
		CustomerID: a.CustomerID,
		Current:    a.Segment,
		Next:       next,
		Score:      a.SegmentScore,
		Gap:        gap,
		Lever:      lever.name,
		LeverScore: lever.score,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
