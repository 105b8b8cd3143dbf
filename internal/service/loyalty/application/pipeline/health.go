// internal/service/loyalty/application/pipeline/health.go
package pipeline

import (
	"go.opentelemetry.io/otel/attribute"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain"
)

// HealthHandler 计算健康分和风险评估，并与上一次快照比较得出趋势和风险升级。
type HealthHandler struct {
	NextHandler
}

func (h *HealthHandler) Handle(rc *RecomputeContext) error {
	ctx, span := rc.Tracer.Start(rc.Ctx, "pipeline.Health")
	prev, err := rc.Stores.Snapshots.Get(ctx, rc.Account.CustomerID)
	if err != nil {
		// 快照缓存不可用时按首次计算处理，趋势回到 STABLE
		logger.Ctx(ctx).Warn().Err(err).Msg("health snapshot unavailable, computing without trend")
		prev = nil
	}
	rc.PrevHealth = prev

	snap := rc.Engines.Health.Score(rc.Metrics, prev)
	risk, errs := rc.Engines.Risk.Assess(rc.Metrics)
	for _, e := range errs {
		metrics.RuleEvaluationFailures.WithLabelValues("risk").Inc()
		logger.Ctx(ctx).Debug().Err(e).Msg("risk factor evaluation failed, treated as not fired")
	}
	snap.Risk = risk
	rc.Health = snap

	if prev != nil {
		rc.Escalated = domain.Escalated(prev.Risk, risk)
		for _, cat := range rc.Escalated {
			rc.Emit(domain.EventRiskEscalated, map[string]any{
				"category":       string(cat),
				"from":           string(prev.Risk[cat].RiskLevel),
				"to":             string(risk[cat].RiskLevel),
				"probability":    risk[cat].Probability,
				"primaryFactors": risk[cat].PrimaryFactors,
			})
		}
	}

	span.SetAttributes(
		attribute.Float64("health.score", snap.Score),
		attribute.String("health.level", string(snap.Level)),
	)
	span.End()
	return h.executeNext(rc)
}
