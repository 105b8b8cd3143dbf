// internal/service/loyalty/application/health.go
package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain"
)

// GetCustomerHealthScore 计算客户当前的健康分、风险评估和预测。
// 读取路径不写快照。子项分数与最近一次持久化的快照一致时直接沿用快照的趋势，
// 否则与该快照比较得出趋势。
func (s *LoyaltyService) GetCustomerHealthScore(ctx context.Context, customerID string) (*HealthScoreView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetCustomerHealthScore")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	m, err := s.loadMetrics(ctx, acc, s.fetchSignals(ctx, customerID), now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	prev, err := s.snapshots.Get(ctx, customerID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("health snapshot unavailable, trends reported as stable")
		prev = nil
	}
	engines := s.engines.Load()
	snap := engines.Health.Score(m, prev)
	if prev != nil && snap.SameScores(prev) {
		snap.Components = prev.Components
	}
	risk, errs := engines.Risk.Assess(m)
	for _, e := range errs {
		metrics.RuleEvaluationFailures.WithLabelValues("risk").Inc()
		logger.Ctx(ctx).Debug().Err(e).Msg("risk factor evaluation failed, treated as not fired")
	}

	span.SetAttributes(attribute.Float64("health.score", snap.Score))
	return &HealthScoreView{
		CustomerID:       customerID,
		HealthScore:      snap.Score,
		HealthLevel:      snap.Level,
		Components:       snap.Components,
		RiskAssessment:   risk,
		PredictionModels: domain.Predict(m, risk),
		ComputedAt:       now,
	}, nil
}
