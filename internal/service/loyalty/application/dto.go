// internal/service/loyalty/application/dto.go
package application

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"loyaltyhub/internal/service/loyalty/application/pipeline"
	"loyaltyhub/internal/service/loyalty/domain"
)

// ErrInvalidRequest 表示请求参数没有通过校验。
var ErrInvalidRequest = errors.New("invalid request")

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// ---- 请求 ----

type AddPointsRequest struct {
	CustomerID      string                 `json:"customerId" validate:"required,max=64"`
	Points          int64                  `json:"points"`
	Description     string                 `json:"description" validate:"max=255"`
	TransactionType domain.TransactionType `json:"transactionType"`
	OrderReference  string                 `json:"orderReference,omitempty" validate:"max=64"`
}

type RedeemPointsRequest struct {
	CustomerID      string                 `json:"customerId" validate:"required,max=64"`
	PointsToRedeem  int64                  `json:"pointsToRedeem"`
	Description     string                 `json:"description" validate:"max=255"`
	TransactionType domain.TransactionType `json:"transactionType,omitempty"`
	OrderReference  string                 `json:"orderReference,omitempty" validate:"max=64"`
}

type AdjustPointsRequest struct {
	CustomerID string `json:"customerId" validate:"required,max=64"`
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason" validate:"required,max=255"`
}

type ExpirePointsRequest struct {
	CustomerID  string `json:"customerId" validate:"required,max=64"`
	Points      int64  `json:"points"`
	Description string `json:"description" validate:"max=255"`
}

type RecordVisitRequest struct {
	CustomerID     string    `json:"customerId" validate:"required,max=64"`
	AmountSpent    int64     `json:"amountSpent" validate:"gte=0"`
	VisitedAt      time.Time `json:"visitedAt"`
	OrderReference string    `json:"orderReference,omitempty" validate:"max=64"`
	Rating         int       `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
}

type ProposeTierChangeRequest struct {
	CustomerID string           `json:"customerId" validate:"required,max=64"`
	TargetTier domain.TierLevel `json:"targetTier" validate:"required"`
	Reason     string           `json:"reason" validate:"required,max=255"`
}

type CreateCustomSegmentRequest struct {
	Name        string                `json:"name" validate:"required,max=100"`
	Description string                `json:"description" validate:"max=500"`
	Conditions  domain.ConditionGroup `json:"conditions"`
}

// StatisticsFilter 中 Tier / Segment 作用于账户口径的指标，From / To 作用于流水口径的指标。
type StatisticsFilter struct {
	Tier    domain.TierLevel
	Segment domain.Segment
	From    *time.Time
	To      *time.Time
	TopN    int
}

// ---- 响应 ----

type PendingTierChange struct {
	TargetTier domain.TierLevel `json:"targetTier"`
	Reason     string           `json:"reason"`
	Since      *time.Time       `json:"since,omitempty"`
	Manual     bool             `json:"manual"`
}

// LoyaltyView 是账户对外展示的形态。
type LoyaltyView struct {
	CustomerID        string             `json:"customerId"`
	CurrentPoints     int64              `json:"currentPoints"`
	LifetimeSpent     int64              `json:"lifetimeSpent"`
	CurrentYearSpent  int64              `json:"currentYearSpent"`
	TotalVisits       int64              `json:"totalVisits"`
	TierLevel         domain.TierLevel   `json:"tierLevel"`
	Segment           domain.Segment     `json:"segment"`
	LastVisitAt       *time.Time         `json:"lastVisitAt,omitempty"`
	PendingTierChange *PendingTierChange `json:"pendingTierChange,omitempty"`
	WritesHalted      bool               `json:"writesHalted"`
	Active            bool               `json:"active"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func toLoyaltyView(acc *domain.LoyaltyAccount, asOf time.Time) LoyaltyView {
	v := LoyaltyView{
		CustomerID:       acc.CustomerID,
		CurrentPoints:    acc.CurrentPoints,
		LifetimeSpent:    acc.LifetimeSpent,
		CurrentYearSpent: acc.EffectiveYearSpent(asOf),
		TotalVisits:      acc.TotalVisits,
		TierLevel:        acc.TierLevel,
		Segment:          acc.Segment,
		LastVisitAt:      acc.LastVisitAt,
		WritesHalted:     acc.WritesHalted,
		Active:           acc.Active,
		UpdatedAt:        acc.UpdatedAt,
	}
	if acc.PendingTier != "" {
		v.PendingTierChange = &PendingTierChange{
			TargetTier: acc.PendingTier,
			Reason:     acc.PendingTierReason,
			Since:      acc.PendingTierSince,
			Manual:     acc.PendingTierManual,
		}
	}
	return v
}

// LedgerResult 是账本写操作的返回值。Transaction 为空表示这次操作没有产生流水（例如零消费的到店）。
type LedgerResult struct {
	Loyalty     LoyaltyView                `json:"loyalty"`
	Transaction *domain.LoyaltyTransaction `json:"transaction,omitempty"`
}

type LoyaltyDetails struct {
	Loyalty              LoyaltyView                  `json:"loyalty"`
	Transactions         []*domain.LoyaltyTransaction `json:"transactions"`
	TierBenefits         domain.TierBenefits          `json:"tierBenefits"`
	NextTierRequirements *domain.NextTierRequirements `json:"nextTierRequirements"`
}

type ReplayResult struct {
	CustomerID       string `json:"customerId"`
	StoredBalance    int64  `json:"storedBalance"`
	ReplayedBalance  int64  `json:"replayedBalance"`
	TransactionCount int    `json:"transactionCount"`
	Consistent       bool   `json:"consistent"`
	// FirstDivergence 是第一条 balanceAfter 与累加值不一致的流水 ID
	FirstDivergence string `json:"firstDivergence,omitempty"`
	WritesHalted    bool   `json:"writesHalted"`
}

type RefreshResult struct {
	CustomerID string           `json:"customerId"`
	Outcome    pipeline.Outcome `json:"outcome"`
}

type SegmentationReport struct {
	Processed           int                    `json:"processed"`
	Changed             int                    `json:"changed"`
	Failed              int                    `json:"failed"`
	SegmentDistribution map[domain.Segment]int `json:"segmentDistribution"`
	Failures            []string               `json:"failures,omitempty"`
	StartedAt           time.Time              `json:"startedAt"`
	FinishedAt          time.Time              `json:"finishedAt"`
}

type SegmentAnalysis struct {
	TotalCustomers       int                       `json:"totalCustomers"`
	SegmentDistribution  map[domain.Segment]int    `json:"segmentDistribution"`
	RecentMovements      []domain.SegmentMovement  `json:"recentMovements"`
	UpgradeableCustomers []domain.UpgradeCandidate `json:"upgradeableCustomers"`
	Insights             []string                  `json:"insights"`
}

type CustomSegmentCreated struct {
	ID            string `json:"id"`
	CustomerCount int    `json:"customerCount"`
}

type CustomSegmentMembers struct {
	SegmentID   string   `json:"segmentId"`
	CustomerIDs []string `json:"customerIds"`
}

type HealthScoreView struct {
	CustomerID       string                                           `json:"customerId"`
	HealthScore      float64                                          `json:"healthScore"`
	HealthLevel      domain.HealthLevel                               `json:"healthLevel"`
	Components       map[domain.HealthComponent]domain.ComponentScore `json:"components"`
	RiskAssessment   map[domain.RiskCategory]domain.RiskAssessment    `json:"riskAssessment"`
	PredictionModels domain.PredictionModels                          `json:"predictionModels"`
	ComputedAt       time.Time                                        `json:"computedAt"`
}

type TopCustomer struct {
	CustomerID    string           `json:"customerId"`
	CurrentPoints int64            `json:"currentPoints"`
	LifetimeSpent int64            `json:"lifetimeSpent"`
	TierLevel     domain.TierLevel `json:"tierLevel"`
}

type LoyaltyStatistics struct {
	TotalPointsIssued        int64                    `json:"totalPointsIssued"`
	TotalPointsRedeemed      int64                    `json:"totalPointsRedeemed"`
	TotalPointsExpired       int64                    `json:"totalPointsExpired"`
	NetAdjustments           int64                    `json:"netAdjustments"`
	ActivePoints             int64                    `json:"activePoints"`
	CustomerCount            int                      `json:"customerCount"`
	AveragePointsPerCustomer float64                  `json:"averagePointsPerCustomer"`
	TopLoyaltyCustomers      []TopCustomer            `json:"topLoyaltyCustomers"`
	TierDistribution         map[domain.TierLevel]int `json:"tierDistribution"`
}
