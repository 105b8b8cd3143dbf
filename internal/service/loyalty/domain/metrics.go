// internal/service/loyalty/domain/metrics.go
package domain

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MetricsWindow 是近期指标的统计窗口。前一个窗口紧挨着它，用于计算趋势。
const MetricsWindow = 90 * 24 * time.Hour

// Visit 是一次到店记录。Rating 为 0 表示客户没有留下评价。
type Visit struct {
	ID             string
	CustomerID     string
	VisitedAt      time.Time
	AmountSpent    int64
	OrderReference string
	Rating         int
}

func NewVisit(customerID string, amount int64, visitedAt time.Time, orderRef string, rating int) *Visit {
	return &Visit{
		ID:             uuid.NewString(),
		CustomerID:     customerID,
		VisitedAt:      visitedAt,
		AmountSpent:    amount,
		OrderReference: orderRef,
		Rating:         rating,
	}
}

// EngagementSignals 是来自外部协作方（问卷、短信触达）的互动统计。
type EngagementSignals struct {
	FeedbackCount     int64   `json:"feedbackCount"`
	AverageRating     float64 `json:"averageRating"`
	MessagesSent      int64   `json:"messagesSent"`
	MessagesResponded int64   `json:"messagesResponded"`
}

// LedgerActivity 是某个客户的账本汇总。
type LedgerActivity struct {
	PointsEarned          int64
	PointsRedeemed        int64
	RedemptionsLast90Days int64
}

// CustomerMetrics 是所有引擎共用的只读指标快照。
// 各引擎只依赖快照本身，不读取时钟，所以同一快照的计算结果可以复现。
type CustomerMetrics struct {
	CustomerID       string
	AsOf             time.Time
	AccountAgeDays   int
	CurrentPoints    int64
	LifetimeSpent    int64
	CurrentYearSpent int64
	TotalVisits      int64
	LastVisitAt      *time.Time
	// DaysSinceLastVisit 为 -1 表示从未到店
	DaysSinceLastVisit int
	Tier               TierLevel
	Segment            Segment
	PendingDowngrade   bool

	VisitsLast90Days  int64
	VisitsPrior90Days int64
	SpendLast90Days   int64
	SpendPrior90Days  int64
	// AverageVisitIntervalDays 为 0 表示窗口内到店次数不足以估计间隔
	AverageVisitIntervalDays float64

	PointsEarned          int64
	PointsRedeemed        int64
	RedemptionsLast90Days int64

	FeedbackCount     int64
	AverageRating     float64
	MessagesSent      int64
	MessagesResponded int64
}

// BuildCustomerMetrics 汇总账户、近两个窗口内的到店记录、账本汇总和外部互动信号。
// 到店评分与外部反馈按条数加权合并。
func BuildCustomerMetrics(acc *LoyaltyAccount, visits []*Visit, ledger LedgerActivity, signals EngagementSignals, asOf time.Time) CustomerMetrics {
	m := CustomerMetrics{
		CustomerID:         acc.CustomerID,
		AsOf:               asOf,
		AccountAgeDays:     daysBetween(acc.CreatedAt, asOf),
		CurrentPoints:      acc.CurrentPoints,
		LifetimeSpent:      acc.LifetimeSpent,
		CurrentYearSpent:   acc.EffectiveYearSpent(asOf),
		TotalVisits:        acc.TotalVisits,
		DaysSinceLastVisit: -1,
		Tier:               acc.TierLevel,
		Segment:            acc.Segment,
		PendingDowngrade:   acc.PendingTier != "",

		PointsEarned:          ledger.PointsEarned,
		PointsRedeemed:        ledger.PointsRedeemed,
		RedemptionsLast90Days: ledger.RedemptionsLast90Days,

		MessagesSent:      signals.MessagesSent,
		MessagesResponded: signals.MessagesResponded,
	}
	if acc.LastVisitAt != nil {
		t := *acc.LastVisitAt
		m.LastVisitAt = &t
		m.DaysSinceLastVisit = daysBetween(t, asOf)
	}

	windowStart := asOf.Add(-MetricsWindow)
	priorStart := windowStart.Add(-MetricsWindow)
	var recent []time.Time
	var ratingSum float64
	var ratingCount int64
	for _, v := range visits {
		if v.VisitedAt.After(asOf) {
			continue
		}
		switch {
		case !v.VisitedAt.Before(windowStart):
			m.VisitsLast90Days++
			m.SpendLast90Days += v.AmountSpent
			recent = append(recent, v.VisitedAt)
		case !v.VisitedAt.Before(priorStart):
			m.VisitsPrior90Days++
			m.SpendPrior90Days += v.AmountSpent
		}
		if v.Rating > 0 {
			ratingSum += float64(v.Rating)
			ratingCount++
		}
	}
	m.AverageVisitIntervalDays = averageInterval(recent)

	m.FeedbackCount = signals.FeedbackCount + ratingCount
	if m.FeedbackCount > 0 {
		total := signals.AverageRating*float64(signals.FeedbackCount) + ratingSum
		m.AverageRating = round2(total / float64(m.FeedbackCount))
	}
	return m
}

func averageInterval(ts []time.Time) float64 {
	if len(ts) < 2 {
		return 0
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	span := ts[len(ts)-1].Sub(ts[0]).Hours() / 24
	return round2(span / float64(len(ts)-1))
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(math.Floor(to.Sub(from).Hours() / 24))
}

// RFMInput 提取分群计算所需的字段。
func (m CustomerMetrics) RFMInput() RFMInput {
	return RFMInput{
		DaysSinceLastVisit: m.DaysSinceLastVisit,
		TotalVisits:        m.TotalVisits,
		LifetimeSpent:      m.LifetimeSpent,
	}
}

// RedeemRatio 是已兑换积分占已获得积分的比例。
func (m CustomerMetrics) RedeemRatio() float64 {
	if m.PointsEarned <= 0 {
		return 0
	}
	return float64(m.PointsRedeemed) / float64(m.PointsEarned)
}

// ResponseRate 是触达回复率，没有触达记录时为 0。
func (m CustomerMetrics) ResponseRate() float64 {
	if m.MessagesSent <= 0 {
		return 0
	}
	return float64(m.MessagesResponded) / float64(m.MessagesSent)
}

// Facts 是自定义分群规则可以引用的字段集合。
func (m CustomerMetrics) Facts() Facts {
	f := Facts{
		"lifetimeSpent":    NumberFact(float64(m.LifetimeSpent)),
		"totalVisits":      NumberFact(float64(m.TotalVisits)),
		"currentYearSpent": NumberFact(float64(m.CurrentYearSpent)),
		"currentPoints":    NumberFact(float64(m.CurrentPoints)),
		"visitsLast90Days": NumberFact(float64(m.VisitsLast90Days)),
		"spendLast90Days":  NumberFact(float64(m.SpendLast90Days)),
		"pointsRedeemed":   NumberFact(float64(m.PointsRedeemed)),
		"averageRating":    NumberFact(m.AverageRating),
		"tierLevel":        StringFact(string(m.Tier)),
		"segment":          StringFact(string(m.Segment)),
		"hasVisited":       BoolFact(m.LastVisitAt != nil),
		"pendingDowngrade": BoolFact(m.PendingDowngrade),
	}
	// 从未到店的客户没有 lastVisitDays，引用它的规则按缺失字段处理
	if m.DaysSinceLastVisit >= 0 {
		f["lastVisitDays"] = NumberFact(float64(m.DaysSinceLastVisit))
	}
	return f
}

// RiskVars 声明风险表达式可用的变量。数值统一为 double。
var RiskVars = map[string]FactKind{
	"daysSinceLastVisit":    FactNumber,
	"hasVisited":            FactBool,
	"accountAgeDays":        FactNumber,
	"totalVisits":           FactNumber,
	"visitsLast90Days":      FactNumber,
	"visitsPrior90Days":     FactNumber,
	"spendLast90Days":       FactNumber,
	"spendPrior90Days":      FactNumber,
	"lifetimeSpent":         FactNumber,
	"currentPoints":         FactNumber,
	"pointsEarned":          FactNumber,
	"redeemRatio":           FactNumber,
	"redemptionsLast90Days": FactNumber,
	"feedbackCount":         FactNumber,
	"averageRating":         FactNumber,
	"messagesSent":          FactNumber,
	"responseRate":          FactNumber,
	"pendingDowngrade":      FactBool,
}

// RiskFacts 按 RiskVars 的声明生成风险表达式的输入。
func (m CustomerMetrics) RiskFacts() map[string]any {
	days := float64(m.DaysSinceLastVisit)
	if m.DaysSinceLastVisit < 0 {
		days = float64(m.AccountAgeDays)
	}
	return map[string]any{
		"daysSinceLastVisit":    days,
		"hasVisited":            m.LastVisitAt != nil,
		"accountAgeDays":        float64(m.AccountAgeDays),
		"totalVisits":           float64(m.TotalVisits),
		"visitsLast90Days":      float64(m.VisitsLast90Days),
		"visitsPrior90Days":     float64(m.VisitsPrior90Days),
		"spendLast90Days":       float64(m.SpendLast90Days),
		"spendPrior90Days":      float64(m.SpendPrior90Days),
		"lifetimeSpent":         float64(m.LifetimeSpent),
		"currentPoints":         float64(m.CurrentPoints),
		"pointsEarned":          float64(m.PointsEarned),
		"redeemRatio":           m.RedeemRatio(),
		"redemptionsLast90Days": float64(m.RedemptionsLast90Days),
		"feedbackCount":         float64(m.FeedbackCount),
		"averageRating":         m.AverageRating,
		"messagesSent":          float64(m.MessagesSent),
		"responseRate":          m.ResponseRate(),
		"pendingDowngrade":      m.PendingDowngrade,
	}
}
