// internal/service/loyalty/application/service.go
package application

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/application/pipeline"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// 重算触发来源，用于指标标签和日志。
const (
	TriggerLedger    = "ledger"
	TriggerRegister  = "register"
	TriggerTier      = "tier_change"
	TriggerScheduled = "scheduled"
	TriggerBatch     = "batch"
)

// Deps 是 LoyaltyService 依赖的全部仓储和出站端口。
type Deps struct {
	Accounts       domain.AccountRepository
	Ledger         domain.LedgerRepository
	Visits         domain.VisitRepository
	Segments       domain.SegmentRepository
	CustomSegments domain.CustomSegmentRepository
	Snapshots      domain.HealthSnapshotStore
	Locker         port.CustomerLocker
	Publisher      port.EventPublisher
	// Signals 为空时互动信号按零值处理
	Signals port.SignalSource
	Engines *EngineHolder
	Tracer  trace.Tracer
}

// Options 是运行参数，零值字段使用默认值。
type Options struct {
	Retry       RetryPolicy
	LockWait    time.Duration
	Parallelism int
	Clock       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Retry.MaxTries == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.LockWait <= 0 {
		o.LockWait = 5 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 8
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// LoyaltyService 是积分账本和客户画像的应用服务。
// 所有账本写入和持久化重算都在同一把客户锁内执行，不同客户之间并行。
type LoyaltyService struct {
	accounts       domain.AccountRepository
	ledger         domain.LedgerRepository
	visits         domain.VisitRepository
	segments       domain.SegmentRepository
	customSegments domain.CustomSegmentRepository
	snapshots      domain.HealthSnapshotStore
	locker         port.CustomerLocker
	publisher      port.EventPublisher
	signals        port.SignalSource
	engines        *EngineHolder
	tracer         trace.Tracer
	opts           Options
	chain          pipeline.Handler
}

// NewLoyaltyService 创建应用服务实例。
func NewLoyaltyService(d Deps, opts Options) *LoyaltyService {
	publisher := d.Publisher
	if publisher == nil {
		publisher = discardPublisher{}
	}
	return &LoyaltyService{
		accounts:       d.Accounts,
		ledger:         d.Ledger,
		visits:         d.Visits,
		segments:       d.Segments,
		customSegments: d.CustomSegments,
		snapshots:      d.Snapshots,
		locker:         d.Locker,
		publisher:      publisher,
		signals:        d.Signals,
		engines:        d.Engines,
		tracer:         d.Tracer,
		opts:           opts.withDefaults(),
		chain:          pipeline.Build(),
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, ...domain.LoyaltyEvent) error { return nil }

func (s *LoyaltyService) now() time.Time { return s.opts.Clock() }

func (s *LoyaltyService) stores() pipeline.Stores {
	return pipeline.Stores{
		Accounts:       s.accounts,
		Segments:       s.segments,
		CustomSegments: s.customSegments,
		Snapshots:      s.snapshots,
		Publisher:      s.publisher,
	}
}

// lock 在 LockWait 内获取客户锁。
func (s *LoyaltyService) lock(ctx context.Context, customerID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lctx, customerID)
	if err != nil {
		return nil, errors.Wrapf(err, "lock customer %s", customerID)
	}
	return unlock, nil
}

// fetchSignals 读取外部互动信号。协作方不可用时按零值处理，不阻塞账本写入。
// 信号在加锁前读取，避免远程调用占用客户锁。
func (s *LoyaltyService) fetchSignals(ctx context.Context, customerID string) domain.EngagementSignals {
	if s.signals == nil {
		return domain.EngagementSignals{}
	}
	sig, err := s.signals.Signals(ctx, customerID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("engagement signals unavailable, using neutral values")
		return domain.EngagementSignals{}
	}
	return sig
}

// loadMetrics 汇总最近两个统计窗口内的到店记录和账本数据，构建指标快照。
func (s *LoyaltyService) loadMetrics(ctx context.Context, acc *domain.LoyaltyAccount, signals domain.EngagementSignals, now time.Time) (domain.CustomerMetrics, error) {
	visits, err := s.visits.ListSince(ctx, acc.CustomerID, now.Add(-2*domain.MetricsWindow))
	if err != nil {
		return domain.CustomerMetrics{}, errors.Wrap(err, "load visits")
	}
	activity, err := s.ledger.Activity(ctx, acc.CustomerID, now.Add(-domain.MetricsWindow))
	if err != nil {
		return domain.CustomerMetrics{}, errors.Wrap(err, "load ledger activity")
	}
	return domain.BuildCustomerMetrics(acc, visits, activity, signals, now), nil
}

// compiledSegments 编译当前全部激活的自定义分群。
func (s *LoyaltyService) compiledSegments(ctx context.Context) ([]*domain.CompiledSegment, error) {
	defs, err := s.customSegments.List(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "list custom segments")
	}
	out := make([]*domain.CompiledSegment, 0, len(defs))
	for _, d := range defs {
		out = append(out, domain.CompileSegment(d))
	}
	return out, nil
}

// recomputeLocked 执行重算链，调用方必须持有客户锁。
// 版本冲突时整条链重新读取账户后再执行一次。未激活的账户直接跳过。
func (s *LoyaltyService) recomputeLocked(ctx context.Context, customerID, trigger string, signals domain.EngagementSignals) (pipeline.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "app.Recompute")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID), attribute.String("trigger", trigger))

	start := time.Now()
	defer func() {
		metrics.RecomputeSeconds.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}()

	engines := s.engines.Load()
	custom, err := s.compiledSegments(ctx)
	if err != nil {
		span.RecordError(err)
		return pipeline.Outcome{}, err
	}

	out, err := withRetry(ctx, s.opts.Retry, "recompute", func() (pipeline.Outcome, error) {
		acc, err := s.accounts.Get(ctx, customerID)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		if !acc.Active {
			return pipeline.Outcome{Tier: acc.TierLevel, Segment: acc.Segment}, nil
		}
		now := s.now()
		m, err := s.loadMetrics(ctx, acc, signals, now)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		rc := &pipeline.RecomputeContext{
			Ctx:            ctx,
			Tracer:         s.tracer,
			Trigger:        trigger,
			Now:            now,
			Engines:        engines,
			Stores:         s.stores(),
			Account:        acc,
			Metrics:        m,
			CustomSegments: custom,
		}
		if err := s.chain.Handle(rc); err != nil {
			return pipeline.Outcome{}, err
		}
		return rc.Outcome(), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recompute failed")
		return pipeline.Outcome{}, err
	}
	return out, nil
}

// recompute 获取客户锁后执行重算。
func (s *LoyaltyService) recompute(ctx context.Context, customerID, trigger string) (pipeline.Outcome, error) {
	signals := s.fetchSignals(ctx, customerID)
	unlock, err := s.lock(ctx, customerID)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	defer unlock()
	return s.recomputeLocked(ctx, customerID, trigger, signals)
}

// mutation 在最新读取的账户上构造一次账本写入。返回的 Transaction 和 Visit 都为空时不提交。
type mutation func(acc *domain.LoyaltyAccount, now time.Time) (domain.LedgerMutation, error)

// mutate 是所有账本写操作的公共流程：
// 读取信号 → 加锁 → 读取账户并提交（版本冲突时重试）→ 发布积分变动 → 重算 → 返回最新账户。
// 重算失败不影响已经提交的账本，只记录日志。
func (s *LoyaltyService) mutate(ctx context.Context, customerID, op string, fn mutation) (*LedgerResult, error) {
	signals := s.fetchSignals(ctx, customerID)
	unlock, err := s.lock(ctx, customerID)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues(op, "lock_timeout").Inc()
		return nil, err
	}
	defer unlock()

	m, err := withRetry(ctx, s.opts.Retry, op, func() (domain.LedgerMutation, error) {
		acc, err := s.accounts.Get(ctx, customerID)
		if err != nil {
			return domain.LedgerMutation{}, err
		}
		m, err := fn(acc, s.now())
		if err != nil {
			return domain.LedgerMutation{}, err
		}
		if m.Transaction == nil && m.Visit == nil {
			return m, nil
		}
		return m, s.ledger.Commit(ctx, m)
	})
	if err != nil {
		metrics.LedgerOperations.WithLabelValues(op, outcomeOf(err)).Inc()
		return nil, err
	}
	metrics.LedgerOperations.WithLabelValues(op, "ok").Inc()

	tx := m.Transaction
	if tx != nil {
		if flow := tx.Type.Flow(); flow != "" {
			metrics.PointsMoved.WithLabelValues(string(flow)).Add(math.Abs(float64(tx.PointsChange)))
		}
		logger.Ctx(logger.WithCustomer(ctx, customerID)).Info().
			Int64("delta", tx.PointsChange).
			Str("type", string(tx.Type)).
			Int64("balance", tx.BalanceAfter).
			Msg("✅ Ledger transaction committed")

		event := domain.NewEvent(domain.EventPointsChanged, customerID, tx.CreatedAt, map[string]any{
			"transactionId":   tx.ID,
			"pointsChange":    tx.PointsChange,
			"transactionType": string(tx.Type),
			"balanceAfter":    tx.BalanceAfter,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("failed to publish points change")
		}
	}

	if _, err := s.recomputeLocked(ctx, customerID, TriggerLedger, signals); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("customer_id", customerID).Msg("recompute after ledger write failed, will catch up on next refresh")
	}

	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Loyalty: toLoyaltyView(acc, s.now()), Transaction: tx}, nil
}

// outcomeOf 把错误归类为指标标签。
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientPoints),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTransactionType):
		return "rejected"
	case errors.Is(err, domain.ErrWritesHalted), errors.Is(err, domain.ErrCustomerInactive):
		return "halted"
	case errors.Is(err, domain.ErrUnknownCustomer):
		return "unknown_customer"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	}
	return "error"
}
