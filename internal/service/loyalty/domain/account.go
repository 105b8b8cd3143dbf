// internal/service/loyalty/domain/account.go
package domain

import (
	"fmt"
	"time"
)

// LoyaltyAccount 是会员积分账户聚合根，每个客户独占一个。
// CurrentPoints 必须始终等于该客户全部流水 PointsChange 的累加值，且永不为负。
type LoyaltyAccount struct {
	CustomerID       string
	CurrentPoints    int64
	LifetimeSpent    int64 // 单调不减，最小货币单位
	CurrentYearSpent int64
	YearOfSpend      int // CurrentYearSpent 所属的自然年
	TotalVisits      int64
	TierLevel        TierLevel
	LastVisitAt      *time.Time
	Segment          Segment

	// PendingTier 是等待管理员确认的降级建议，为空表示没有待处理的变更。
	PendingTier       TierLevel
	PendingTierReason string
	PendingTierSince  *time.Time
	PendingTierManual bool // 管理员发起的建议不会被自动重算清除

	WritesHalted bool
	Active       bool

	// Version 是乐观锁版本号，每次持久化成功后加一。
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewLoyaltyAccount 为新注册客户创建一个清零的账户。
func NewLoyaltyAccount(customerID string, now time.Time) *LoyaltyAccount {
	return &LoyaltyAccount{
		CustomerID:  customerID,
		TierLevel:   TierBronze,
		Segment:     SegmentNew,
		YearOfSpend: now.Year(),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone 返回账户的深拷贝，仓储层在返回和接收账户时使用，避免共享可变状态。
func (a *LoyaltyAccount) Clone() *LoyaltyAccount {
	if a == nil {
		return nil
	}
	c := *a
	if a.LastVisitAt != nil {
		t := *a.LastVisitAt
		c.LastVisitAt = &t
	}
	if a.PendingTierSince != nil {
		t := *a.PendingTierSince
		c.PendingTierSince = &t
	}
	return &c
}

func (a *LoyaltyAccount) checkWritable() error {
	if a.WritesHalted {
		return ErrWritesHalted
	}
	if !a.Active {
		return ErrCustomerInactive
	}
	return nil
}

// Apply 在账户上执行一次积分变动并生成对应流水。
// 负向变动要求 |delta| <= CurrentPoints，否则返回 ErrInsufficientPoints 且账户不变。
// 调用方负责把账户和流水作为一个原子单元持久化。
func (a *LoyaltyAccount) Apply(delta int64, txType TransactionType, description, orderRef string, now time.Time) (*LoyaltyTransaction, error) {
	if err := a.checkWritable(); err != nil {
		return nil, err
	}
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransactionType, txType)
	}
	if delta == 0 {
		return nil, ErrInvalidAmount
	}
	if txType.IsCredit() && delta < 0 {
		return nil, fmt.Errorf("%w: %s requires a positive delta", ErrInvalidTransactionType, txType)
	}
	if !txType.IsCredit() && delta > 0 {
		return nil, fmt.Errorf("%w: %s requires a negative delta", ErrInvalidTransactionType, txType)
	}
	if delta < 0 && -delta > a.CurrentPoints {
		return nil, ErrInsufficientPoints
	}

	a.CurrentPoints += delta
	a.UpdatedAt = now
	return newTransaction(a.CustomerID, delta, txType, description, orderRef, a.CurrentPoints, now), nil
}

// RecordVisit 累加到店指标。跨自然年时先把年度消费清零。
func (a *LoyaltyAccount) RecordVisit(amount int64, visitedAt, now time.Time) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	a.rollYear(visitedAt)
	a.TotalVisits++
	a.LifetimeSpent += amount
	if visitedAt.Year() == a.YearOfSpend {
		a.CurrentYearSpent += amount
	}
	if a.LastVisitAt == nil || visitedAt.After(*a.LastVisitAt) {
		v := visitedAt
		a.LastVisitAt = &v
	}
	a.UpdatedAt = now
	return nil
}

// rollYear 在进入新的自然年时重置年度消费。补录的往年到店不会回拨年份。
func (a *LoyaltyAccount) rollYear(at time.Time) {
	if at.Year() > a.YearOfSpend {
		a.YearOfSpend = at.Year()
		a.CurrentYearSpent = 0
	}
}

// EffectiveYearSpent 返回在 asOf 时刻仍然有效的年度消费。
func (a *LoyaltyAccount) EffectiveYearSpent(asOf time.Time) int64 {
	if asOf.Year() > a.YearOfSpend {
		return 0
	}
	return a.CurrentYearSpent
}

// TierMetrics 提取等级计算所需的指标。
func (a *LoyaltyAccount) TierMetrics(asOf time.Time) TierMetrics {
	return TierMetrics{
		LifetimeSpent:    a.LifetimeSpent,
		TotalVisits:      a.TotalVisits,
		CurrentYearSpent: a.EffectiveYearSpent(asOf),
	}
}

// ProposeTierChange 记录一条由管理员发起、等待确认的降级建议。目标必须严格低于当前等级。
func (a *LoyaltyAccount) ProposeTierChange(target TierLevel, reason string, now time.Time) error {
	if err := a.proposeTier(target, reason, now); err != nil {
		return err
	}
	a.PendingTierManual = true
	return nil
}

func (a *LoyaltyAccount) proposeTier(target TierLevel, reason string, now time.Time) error {
	if !target.Valid() || !a.TierLevel.Above(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTierChange, a.TierLevel, target)
	}
	a.PendingTier = target
	a.PendingTierReason = reason
	a.PendingTierManual = false
	t := now
	a.PendingTierSince = &t
	a.UpdatedAt = now
	return nil
}

// ConfirmTierChange 应用待确认的降级，返回变更前的等级。
// floor 是当前指标对应的等级；建议目标已低于 floor 时撤回建议并返回 ErrStaleTierChange，调用方需要保存撤回。
func (a *LoyaltyAccount) ConfirmTierChange(floor TierLevel, now time.Time) (TierLevel, error) {
	if a.PendingTier == "" {
		return "", ErrNoPendingTierChange
	}
	if floor.Above(a.PendingTier) {
		target := a.PendingTier
		a.clearPendingTier()
		a.UpdatedAt = now
		return "", fmt.Errorf("%w: metrics qualify for %s, proposal to %s withdrawn", ErrStaleTierChange, floor, target)
	}
	prev := a.TierLevel
	a.TierLevel = a.PendingTier
	a.clearPendingTier()
	a.UpdatedAt = now
	return prev, nil
}

func (a *LoyaltyAccount) clearPendingTier() {
	a.PendingTier = ""
	a.PendingTierReason = ""
	a.PendingTierSince = nil
	a.PendingTierManual = false
}

// ApplyTierDecision 把等级引擎的结论落到账户上。
// 升级立即生效；降级只记录为建议。管理员发起的建议保持不动，直到被确认或等级发生升级。
func (a *LoyaltyAccount) ApplyTierDecision(d TierDecision, now time.Time) (changed, proposed bool) {
	switch {
	case d.Upgraded:
		a.TierLevel = d.Next
		a.clearPendingTier()
		a.UpdatedAt = now
		return true, false
	case d.DowngradeRecommended:
		if a.PendingTierManual || a.PendingTier == d.Recommended {
			return false, false
		}
		_ = a.proposeTier(d.Recommended, "recomputed metrics no longer meet the current tier", now)
		return false, true
	default:
		if a.PendingTier != "" && !a.PendingTierManual {
			a.clearPendingTier()
			a.UpdatedAt = now
		}
		return false, false
	}
}

// PointsForAmount 按 floor(amount / pointsPerUnit) 计算消费应得积分，永远向下取整。
func PointsForAmount(amount, pointsPerUnit int64) int64 {
	if amount <= 0 || pointsPerUnit <= 0 {
		return 0
	}
	return amount / pointsPerUnit
}
