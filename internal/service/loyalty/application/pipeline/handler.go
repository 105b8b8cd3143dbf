// internal/service/loyalty/application/pipeline/handler.go
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// Stores 是重算流程需要写入的存储和出站端口。
type Stores struct {
	Accounts       domain.AccountRepository
	Segments       domain.SegmentRepository
	CustomSegments domain.CustomSegmentRepository
	Snapshots      domain.HealthSnapshotStore
	Publisher      port.EventPublisher
}

// RecomputeContext 在重算责任链中传递输入和各步骤的结果。
// 整条链在客户锁内执行，同一个 RecomputeContext 不会被并发访问。
type RecomputeContext struct {
	Ctx     context.Context
	Tracer  trace.Tracer
	Trigger string
	Now     time.Time
	Engines *domain.Engines
	Stores  Stores

	Account        *domain.LoyaltyAccount
	Metrics        domain.CustomerMetrics
	CustomSegments []*domain.CompiledSegment

	TierDecision  domain.TierDecision
	Assignment    domain.SegmentAssignment
	Movement      *domain.SegmentMovement
	CustomResults []domain.SegmentEvaluation
	PrevHealth    *domain.HealthSnapshot
	Health        domain.HealthSnapshot
	Escalated     []domain.RiskCategory
	Events        []domain.LoyaltyEvent

	accountDirty      bool
	tierChanged       bool
	downgradeProposed bool
}

// MarkAccountDirty 表示账户的非账本字段有变化，需要在持久化步骤中保存。
func (c *RecomputeContext) MarkAccountDirty() { c.accountDirty = true }

// Emit 追加一个待发布的事件。
func (c *RecomputeContext) Emit(t domain.EventType, payload map[string]any) {
	c.Events = append(c.Events, domain.NewEvent(t, c.Account.CustomerID, c.Now, payload))
}

// Outcome 是一次重算的摘要，供批量任务统计和调用方判断。
type Outcome struct {
	Tier              domain.TierLevel      `json:"tier"`
	TierChanged       bool                  `json:"tierChanged"`
	DowngradeProposed bool                  `json:"downgradeProposed"`
	Segment           domain.Segment        `json:"segment"`
	SegmentChanged    bool                  `json:"segmentChanged"`
	HealthScore       float64               `json:"healthScore"`
	Escalated         []domain.RiskCategory `json:"escalated,omitempty"`
}

func (c *RecomputeContext) Outcome() Outcome {
	return Outcome{
		Tier:              c.Account.TierLevel,
		TierChanged:       c.tierChanged,
		DowngradeProposed: c.downgradeProposed,
		Segment:           c.Assignment.Segment,
		SegmentChanged:    c.Movement != nil,
		HealthScore:       c.Health.Score,
		Escalated:         c.Escalated,
	}
}

// Handler 是重算链上的一个步骤。
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(rc *RecomputeContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(rc *RecomputeContext) error {
	if h.next != nil {
		return h.next.Handle(rc)
	}
	return nil
}

// Build 组装重算链：等级 → RFM 分群 → 自定义分群 → 健康分 → 持久化 → 发布事件。
// 顺序是固定的，后面的步骤会读取前面步骤写入 Metrics 的等级和分群。
// 处理器本身无状态，组装好的链可以被并发复用。
func Build() Handler {
	chain := new(TierHandler)
	chain.
		SetNext(new(SegmentHandler)).
		SetNext(new(CustomSegmentHandler)).
		SetNext(new(HealthHandler)).
		SetNext(new(PersistHandler)).
		SetNext(new(PublishHandler))
	return chain
}
