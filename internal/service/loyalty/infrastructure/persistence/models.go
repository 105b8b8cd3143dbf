// internal/service/loyalty/infrastructure/persistence/models.go
package persistence

import (
	"time"

	"gorm.io/datatypes"

	"loyaltyhub/internal/service/loyalty/domain"
)

// AccountModel 对应 loyalty_accounts 表，Version 是乐观锁版本号。
type AccountModel struct {
	CustomerID        string `gorm:"primaryKey;type:varchar(64)"`
	CurrentPoints     int64
	LifetimeSpent     int64
	CurrentYearSpent  int64
	YearOfSpend       int
	TotalVisits       int64
	TierLevel         string `gorm:"type:varchar(16);index"`
	LastVisitAt       *time.Time
	Segment           string `gorm:"type:varchar(16);index"`
	PendingTier       string `gorm:"type:varchar(16)"`
	PendingTierReason string `gorm:"type:varchar(255)"`
	PendingTierSince  *time.Time
	PendingTierManual bool
	WritesHalted      bool
	Active            bool `gorm:"index"`
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (AccountModel) TableName() string {
	return "loyalty_accounts"
}

// TransactionModel 对应 loyalty_transactions 表。流水只插入不更新，Seq 决定创建顺序。
type TransactionModel struct {
	Seq            uint64 `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"type:char(36);uniqueIndex"`
	CustomerID     string `gorm:"type:varchar(64);index:idx_tx_customer_created,priority:1"`
	PointsChange   int64
	Type           string `gorm:"type:varchar(32)"`
	Description    string `gorm:"type:varchar(255)"`
	OrderReference string `gorm:"type:varchar(64)"`
	BalanceAfter   int64
	CreatedAt      time.Time `gorm:"index:idx_tx_customer_created,priority:2"`
}

func (TransactionModel) TableName() string {
	return "loyalty_transactions"
}

// VisitModel 对应 loyalty_visits 表。
type VisitModel struct {
	ID             string    `gorm:"primaryKey;type:char(36)"`
	CustomerID     string    `gorm:"type:varchar(64);index:idx_visit_customer_time,priority:1"`
	VisitedAt      time.Time `gorm:"index:idx_visit_customer_time,priority:2"`
	AmountSpent    int64
	OrderReference string `gorm:"type:varchar(64)"`
	Rating         int
}

func (VisitModel) TableName() string {
	return "loyalty_visits"
}

// SegmentAssignmentModel 对应 segment_assignments 表，每个客户一行，重算时覆盖。
type SegmentAssignmentModel struct {
	CustomerID     string `gorm:"primaryKey;type:varchar(64)"`
	Segment        string `gorm:"type:varchar(16);index"`
	SegmentScore   float64
	RecencyScore   float64
	FrequencyScore float64
	MonetaryScore  float64
	Reasons        datatypes.JSONType[[]string]
	ComputedAt     time.Time
}

func (SegmentAssignmentModel) TableName() string {
	return "segment_assignments"
}

// SegmentMovementModel 对应 segment_movements 表。
type SegmentMovementModel struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	CustomerID string `gorm:"type:varchar(64);index"`
	FromSeg    string `gorm:"column:from_segment;type:varchar(16)"`
	ToSeg      string `gorm:"column:to_segment;type:varchar(16)"`
	Score      float64
	MovedAt    time.Time `gorm:"index"`
}

func (SegmentMovementModel) TableName() string {
	return "segment_movements"
}

// CustomSegmentModel 对应 custom_segments 表，规则树以 JSON 保存。
type CustomSegmentModel struct {
	ID          string `gorm:"primaryKey;type:char(36)"`
	Name        string `gorm:"type:varchar(100)"`
	Description string `gorm:"type:varchar(500)"`
	Conditions  datatypes.JSONType[domain.ConditionGroup]
	IsActive    bool `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CustomSegmentModel) TableName() string {
	return "custom_segments"
}

// CustomSegmentMemberModel 对应 custom_segment_members 表。
type CustomSegmentMemberModel struct {
	SegmentID  string `gorm:"primaryKey;type:char(36)"`
	CustomerID string `gorm:"primaryKey;type:varchar(64)"`
}

func (CustomSegmentMemberModel) TableName() string {
	return "custom_segment_members"
}

// HealthSnapshotModel 对应 health_snapshots 表，每个客户只保留最近一次。
type HealthSnapshotModel struct {
	CustomerID string `gorm:"primaryKey;type:varchar(64)"`
	Score      float64
	Level      string `gorm:"type:varchar(16)"`
	Components datatypes.JSONType[map[domain.HealthComponent]domain.ComponentScore]
	Risk       datatypes.JSONType[map[domain.RiskCategory]domain.RiskAssessment]
	ComputedAt time.Time
}

func (HealthSnapshotModel) TableName() string {
	return "health_snapshots"
}

// AllModels 列出需要迁移的全部表。
func AllModels() []any {
	return []any{
		&AccountModel{},
		&TransactionModel{},
		&VisitModel{},
		&SegmentAssignmentModel{},
		&SegmentMovementModel{},
		&CustomSegmentModel{},
		&CustomSegmentMemberModel{},
		&HealthSnapshotModel{},
	}
}
