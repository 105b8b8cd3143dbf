// internal/service/loyalty/domain/repository.go
package domain

import (
	"context"
	"time"
)

// AccountRepository 定义了积分账户聚合的持久化接口，由基础设施层实现。
type AccountRepository interface {
	// Create 保存新账户，已存在时返回 ErrAccountExists。
	Create(ctx context.Context, acc *LoyaltyAccount) error

	// Get 查找账户，不存在时返回 ErrUnknownCustomer。
	Get(ctx context.Context, customerID string) (*LoyaltyAccount, error)

	// Save 以乐观锁方式更新账户的非账本字段（等级、分群、降级建议、停写标记）。
	// acc.Version 与存储不一致时返回 ErrConcurrentModification；成功后 acc.Version 加一。
	Save(ctx context.Context, acc *LoyaltyAccount) error

	// ListCustomerIDs 返回全部激活账户的客户 ID，按 ID 排序。
	ListCustomerIDs(ctx context.Context) ([]string, error)

	// List 按条件列出账户。
	List(ctx context.Context, filter AccountFilter) ([]*LoyaltyAccount, error)
}

// AccountFilter 是统计查询的过滤条件，零值表示不过滤。
type AccountFilter struct {
	Tier       TierLevel
	Segment    Segment
	ActiveOnly bool
}

// LedgerMutation 是一次账本写入的原子单元：账户新状态、可选的流水和可选的到店记录。
type LedgerMutation struct {
	Account     *LoyaltyAccount
	Transaction *LoyaltyTransaction
	Visit       *Visit
}

// LedgerRepository 定义了账本的持久化接口。
type LedgerRepository interface {
	// Commit 在一个事务内以版本号 CAS 更新账户并追加流水和到店记录。
	// 任何一步失败都不会留下部分写入。版本冲突返回 ErrConcurrentModification。
	Commit(ctx context.Context, m LedgerMutation) error

	// History 按创建顺序返回客户的全部流水。
	History(ctx context.Context, customerID string) ([]*LoyaltyTransaction, error)

	// Recent 按时间倒序返回最近 limit 条流水。
	Recent(ctx context.Context, customerID string, limit int) ([]*LoyaltyTransaction, error)

	// Activity 汇总客户的获得、兑换积分以及 since 之后的兑换次数。
	Activity(ctx context.Context, customerID string, since time.Time) (LedgerActivity, error)

	// Totals 汇总全部客户的流水。
	Totals(ctx context.Context, filter LedgerFilter) (LedgerTotals, error)
}

// LedgerFilter 限定统计的时间范围，nil 表示不限。
type LedgerFilter struct {
	From *time.Time
	To   *time.Time
}

// VisitRepository 到店记录查询。到店记录只通过 LedgerRepository.Commit 写入。
type VisitRepository interface {
	ListSince(ctx context.Context, customerID string, since time.Time) ([]*Visit, error)
}

// SegmentRepository 保存分群结果和分群变化记录。
type SegmentRepository interface {
	// SaveAssignment 覆盖客户上一次的分群结果。
	SaveAssignment(ctx context.Context, a SegmentAssignment) error
	// GetAssignment 返回客户最近一次分群结果，没有时返回 nil。
	GetAssignment(ctx context.Context, customerID string) (*SegmentAssignment, error)
	ListAssignments(ctx context.Context) ([]SegmentAssignment, error)
	AppendMovement(ctx context.Context, m SegmentMovement) error
	RecentMovements(ctx context.Context, limit int) ([]SegmentMovement, error)
}

// CustomSegmentRepository 保存自定义分群定义及其成员。
type CustomSegmentRepository interface {
	// Create 在同一个原子单元里保存定义和初始成员，失败时两者都不落库。
	Create(ctx context.Context, def *CustomSegmentDefinition, members []string) error
	// Get 不存在时返回 ErrSegmentNotFound。
	Get(ctx context.Context, id string) (*CustomSegmentDefinition, error)
	List(ctx context.Context, activeOnly bool) ([]*CustomSegmentDefinition, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) error

	// ReplaceMembers 整体替换分群成员。
	ReplaceMembers(ctx context.Context, segmentID string, customerIDs []string) error
	// SetMembership 更新单个客户在分群中的成员关系。
	SetMembership(ctx context.Context, segmentID, customerID string, member bool) error
	Members(ctx context.Context, segmentID string) ([]string, error)
}

// HealthSnapshotStore 每个客户只保存一份上一次的健康分快照，重算时整体覆盖。
type HealthSnapshotStore interface {
	// Get 没有快照时返回 nil, nil。
	Get(ctx context.Context, customerID string) (*HealthSnapshot, error)
	Put(ctx context.Context, snap HealthSnapshot) error
}
