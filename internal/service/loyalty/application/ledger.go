// internal/service/loyalty/application/ledger.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain"
)

// RegisterCustomer 为新客户开户并做一次初始重算。重复注册返回已有账户。
func (s *LoyaltyService) RegisterCustomer(ctx context.Context, customerID string) (*LoyaltyView, error) {
	ctx, span := s.tracer.Start(ctx, "app.RegisterCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	if customerID == "" {
		return nil, fmt.Errorf("%w: customerId is required", ErrInvalidRequest)
	}
	acc := domain.NewLoyaltyAccount(customerID, s.now())
	err := s.accounts.Create(ctx, acc)
	switch {
	case errors.Is(err, domain.ErrAccountExists):
		existing, err := s.accounts.Get(ctx, customerID)
		if err != nil {
			return nil, err
		}
		v := toLoyaltyView(existing, s.now())
		return &v, nil
	case err != nil:
		span.RecordError(err)
		return nil, errors.Wrap(err, "create loyalty account")
	}
	logger.Ctx(ctx).Info().Str("customer_id", customerID).Msg("✅ Loyalty account registered")

	if _, err := s.recompute(ctx, customerID, TriggerRegister); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("initial recompute failed")
	}
	cur, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	v := toLoyaltyView(cur, s.now())
	return &v, nil
}

// AddPoints 给客户发放积分。交易类型必须是发放类，默认 EARNED_BONUS。
func (s *LoyaltyService) AddPoints(ctx context.Context, req AddPointsRequest) (*LedgerResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.AddPoints")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID), attribute.Int64("points", req.Points))

	if req.Points <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	txType := req.TransactionType
	if txType == "" {
		txType = domain.TxEarnedBonus
	}
	if !txType.IsEarn() {
		return nil, fmt.Errorf("%w: %s cannot be used to add points", domain.ErrInvalidTransactionType, txType)
	}

	res, err := s.mutate(ctx, req.CustomerID, "add", func(acc *domain.LoyaltyAccount, now time.Time) (domain.LedgerMutation, error) {
		tx, err := acc.Apply(req.Points, txType, req.Description, req.OrderReference, now)
		if err != nil {
			return domain.LedgerMutation{}, err
		}
		return domain.LedgerMutation{Account: acc, Transaction: tx}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// RedeemPoints 兑换积分。余额不足时返回 ErrInsufficientPoints，账户和账本都不变。
func (s *LoyaltyService) RedeemPoints(ctx context.Context, req RedeemPointsRequest) (*LedgerResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.RedeemPoints")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID), attribute.Int64("points", req.PointsToRedeem))

	if req.PointsToRedeem <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	txType := req.TransactionType
	if txType == "" {
		txType = domain.TxRedeemedDiscount
	}
	if !txType.IsRedemption() {
		return nil, fmt.Errorf("%w: %s cannot be used to redeem points", domain.ErrInvalidTransactionType, txType)
	}

	res, err := s.mutate(ctx, req.CustomerID, "redeem", func(acc *domain.LoyaltyAccount, now time.Time) (domain.LedgerMutation, error) {
		tx, err := acc.Apply(-req.PointsToRedeem, txType, req.Description, req.OrderReference, now)
		if err != nil {
			return domain.LedgerMutation{}, err
		}
		return domain.LedgerMutation{Account: acc, Transaction: tx}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// AdjustPoints 人工调整积分，正数记为 ADJUSTMENT_ADD，负数记为 ADJUSTMENT_SUBTRACT。
func (s *LoyaltyService) AdjustPoints(ctx context.Context, req AdjustPointsRequest) (*LedgerResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdjustPoints")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID), attribute.Int64("delta", req.Delta))

	if req.Delta == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	txType := domain.TxAdjustmentAdd
	if req.Delta < 0 {
		txType = domain.TxAdjustmentSubtract
	}

	res, err := s.mutate(ctx, req.CustomerID, "adjust", func(acc *domain.LoyaltyAccount, now time.Time) (domain.LedgerMutation, error) {
		tx, err := acc.Apply(req.Delta, txType, req.Reason, "", now)
		if err != nil {
			return domain.LedgerMutation{}, err
		}
		return domain.LedgerMutation{Account: acc, Transaction: tx}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// ExpirePoints 让积分过期。过期数量不超过当前余额，余额为 0 时不产生流水。
func (s *LoyaltyService) ExpirePoints(ctx context.Context, req ExpirePointsRequest) (*LedgerResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.ExpirePoints")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID), attribute.Int64("points", req.Points))

	if req.Points <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	description := req.Description
	if description == "" {
		description = "points expired"
	}

	res, err := s.mutate(ctx, req.CustomerID, "expire", func(acc *domain.LoyaltyAccount, now time.Time) (domain.LedgerMutation, error) {
		n := min(req.Points, acc.CurrentPoints)
		if n == 0 {
			return domain.LedgerMutation{Account: acc}, nil
		}
		tx, err := acc.Apply(-n, domain.TxExpired, description, "", now)
		if err != nil {
			return domain.LedgerMutation{}, err
		}
		return domain.LedgerMutation{Account: acc, Transaction: tx}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// RecordVisit 记录一次到店消费。到店指标和按 floor(amount/pointsPerUnit) 计算的消费积分在同一次提交中写入。
func (s *LoyaltyService) RecordVisit(ctx context.Context, req RecordVisitRequest) (*LedgerResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.RecordVisit")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID), attribute.Int64("amount", req.AmountSpent))

	if req.AmountSpent < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	perUnit := s.engines.Load().Config.Ledger.PointsPerUnit

	res, err := s.mutate(ctx, req.CustomerID, "visit", func(acc *domain.LoyaltyAccount, now time.Time) (domain.LedgerMutation, error) {
		visitedAt := req.VisitedAt
		if visitedAt.IsZero() {
			visitedAt = now
		}
		if err := acc.RecordVisit(req.AmountSpent, visitedAt, now); err != nil {
			return domain.LedgerMutation{}, err
		}
		m := domain.LedgerMutation{
			Account: acc,
			Visit:   domain.NewVisit(acc.CustomerID, req.AmountSpent, visitedAt, req.OrderReference, req.Rating),
		}
		if points := domain.PointsForAmount(req.AmountSpent, perUnit); points > 0 {
			description := fmt.Sprintf("purchase of %d", req.AmountSpent)
			tx, err := acc.Apply(points, domain.TxEarnedPurchase, description, req.OrderReference, now)
			if err != nil {
				return domain.LedgerMutation{}, err
			}
			m.Transaction = tx
		}
		return m, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// Replay 按创建顺序重放客户的全部流水，并逐条核对 balanceAfter。
// 结果与账户余额不一致时停止该客户的账本写入并发布 LedgerInconsistencyDetected。
func (s *LoyaltyService) Replay(ctx context.Context, customerID string) (*ReplayResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Replay")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	unlock, err := s.lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	txs, err := s.ledger.History(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "load ledger history")
	}

	res := &ReplayResult{
		CustomerID:       customerID,
		StoredBalance:    acc.CurrentPoints,
		TransactionCount: len(txs),
	}
	var running int64
	for _, tx := range txs {
		running += tx.PointsChange
		if res.FirstDivergence == "" && tx.BalanceAfter != running {
			res.FirstDivergence = tx.ID
		}
	}
	res.ReplayedBalance = domain.FoldBalance(txs)
	res.Consistent = res.ReplayedBalance == res.StoredBalance && res.FirstDivergence == ""
	if res.Consistent {
		res.WritesHalted = acc.WritesHalted
		return res, nil
	}

	metrics.LedgerInconsistencies.Inc()
	logger.Ctx(ctx).Error().
		Str("customer_id", customerID).
		Int64("stored", res.StoredBalance).
		Int64("replayed", res.ReplayedBalance).
		Str("first_divergence", res.FirstDivergence).
		Msg("🚨 Ledger inconsistency detected, halting writes for customer")

	if !acc.WritesHalted {
		acc.WritesHalted = true
		acc.UpdatedAt = s.now()
		if err := s.accounts.Save(ctx, acc); err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "halt ledger writes")
		}
	}
	res.WritesHalted = true

	event := domain.NewEvent(domain.EventLedgerInconsistency, customerID, s.now(), map[string]any{
		"storedBalance":   res.StoredBalance,
		"replayedBalance": res.ReplayedBalance,
		"firstDivergence": res.FirstDivergence,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to publish ledger inconsistency")
	}
	return res, fmt.Errorf("%w: customer %s stored %d replayed %d",
		domain.ErrLedgerInconsistency, customerID, res.StoredBalance, res.ReplayedBalance)
}

// GetCustomerLoyaltyDetails 返回账户、最近的流水、当前等级权益和下一等级的差距。
func (s *LoyaltyService) GetCustomerLoyaltyDetails(ctx context.Context, customerID string) (*LoyaltyDetails, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetCustomerLoyaltyDetails")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	engines := s.engines.Load()
	txs, err := s.ledger.Recent(ctx, customerID, engines.Config.Ledger.TransactionHistoryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "load recent transactions")
	}
	if txs == nil {
		txs = []*domain.LoyaltyTransaction{}
	}
	now := s.now()
	return &LoyaltyDetails{
		Loyalty:              toLoyaltyView(acc, now),
		Transactions:         txs,
		TierBenefits:         engines.Tier.Benefits(acc.TierLevel),
		NextTierRequirements: engines.Tier.NextTierRequirements(acc.TierLevel, acc.TierMetrics(now)),
	}, nil
}

// ProposeTierChange 由管理员发起降级建议。
// 目标等级不能低于客户当前指标对应的等级，否则下一次重算会立即把客户升回来。
func (s *LoyaltyService) ProposeTierChange(ctx context.Context, req ProposeTierChangeRequest) (*LoyaltyView, error) {
	ctx, span := s.tracer.Start(ctx, "app.ProposeTierChange")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", req.CustomerID), attribute.String("tier.target", string(req.TargetTier)))

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	engines := s.engines.Load()
	acc, err := withRetry(ctx, s.opts.Retry, "propose_tier", func() (*domain.LoyaltyAccount, error) {
		acc, err := s.accounts.Get(ctx, req.CustomerID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if floor := engines.Tier.Evaluate(acc.TierMetrics(now)); floor.Above(req.TargetTier) {
			return nil, fmt.Errorf("%w: metrics still qualify for %s", domain.ErrInvalidTierChange, floor)
		}
		if err := acc.ProposeTierChange(req.TargetTier, req.Reason, now); err != nil {
			return nil, err
		}
		return acc, s.accounts.Save(ctx, acc)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().Str("customer_id", acc.CustomerID).Str("target", string(acc.PendingTier)).Msg("✅ Tier downgrade proposed")
	event := domain.NewEvent(domain.EventTierDowngradeProposed, acc.CustomerID, s.now(), map[string]any{
		"currentTier":  string(acc.TierLevel),
		"proposedTier": string(acc.PendingTier),
		"reason":       acc.PendingTierReason,
		"manual":       true,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to publish tier downgrade proposal")
	}
	v := toLoyaltyView(acc, s.now())
	return &v, nil
}

// ConfirmTierChange 应用待确认的降级，然后重算分群和健康分。
func (s *LoyaltyService) ConfirmTierChange(ctx context.Context, customerID string) (*LoyaltyView, error) {
	ctx, span := s.tracer.Start(ctx, "app.ConfirmTierChange")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	signals := s.fetchSignals(ctx, customerID)
	unlock, err := s.lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	type confirmed struct {
		acc  *domain.LoyaltyAccount
		prev domain.TierLevel
	}
	engines := s.engines.Load()
	c, err := withRetry(ctx, s.opts.Retry, "confirm_tier", func() (confirmed, error) {
		acc, err := s.accounts.Get(ctx, customerID)
		if err != nil {
			return confirmed{}, err
		}
		now := s.now()
		floor := engines.Tier.Evaluate(acc.TierMetrics(now))
		prev, err := acc.ConfirmTierChange(floor, now)
		if errors.Is(err, domain.ErrStaleTierChange) {
			// 建议提出后指标又涨了，撤回建议而不是先降级再被重算升回
			if saveErr := s.accounts.Save(ctx, acc); saveErr != nil {
				return confirmed{}, saveErr
			}
			logger.Ctx(ctx).Info().Str("customer_id", customerID).Str("floor", string(floor)).Msg("stale tier proposal withdrawn")
			return confirmed{}, err
		}
		if err != nil {
			return confirmed{}, err
		}
		return confirmed{acc: acc, prev: prev}, s.accounts.Save(ctx, acc)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().Str("customer_id", customerID).
		Str("from", string(c.prev)).Str("to", string(c.acc.TierLevel)).
		Msg("✅ Tier downgrade confirmed")
	event := domain.NewEvent(domain.EventTierChanged, customerID, s.now(), map[string]any{
		"from":   string(c.prev),
		"to":     string(c.acc.TierLevel),
		"reason": "downgrade confirmed",
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to publish tier change")
	}

	if _, err := s.recomputeLocked(ctx, customerID, TriggerTier, signals); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("customer_id", customerID).Msg("recompute after tier change failed")
	}
	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	v := toLoyaltyView(acc, s.now())
	return &v, nil
}

// RefreshCustomer 重新评估单个客户，供定时任务和事件驱动的重算使用。
func (s *LoyaltyService) RefreshCustomer(ctx context.Context, customerID string) (*RefreshResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.RefreshCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	out, err := s.recompute(ctx, customerID, TriggerScheduled)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &RefreshResult{CustomerID: customerID, Outcome: out}, nil
}
