// internal/service/loyalty/application/pipeline/tier.go
package pipeline

import (
	"go.opentelemetry.io/otel/attribute"

	"loyaltyhub/internal/service/loyalty/domain"
)

// TierHandler 应用单调升级规则。降级只形成建议，由管理员确认后才生效。
type TierHandler struct {
	NextHandler
}

func (h *TierHandler) Handle(rc *RecomputeContext) error {
	_, span := rc.Tracer.Start(rc.Ctx, "pipeline.Tier")
	acc := rc.Account
	before := struct {
		tier    domain.TierLevel
		pending domain.TierLevel
	}{acc.TierLevel, acc.PendingTier}

	d := rc.Engines.Tier.Decide(acc.TierLevel, acc.TierMetrics(rc.Now))
	rc.TierDecision = d
	changed, proposed := acc.ApplyTierDecision(d, rc.Now)
	if acc.TierLevel != before.tier || acc.PendingTier != before.pending {
		rc.MarkAccountDirty()
	}
	rc.tierChanged = changed
	rc.downgradeProposed = proposed
	if changed {
		rc.Emit(domain.EventTierChanged, map[string]any{
			"from":   string(before.tier),
			"to":     string(acc.TierLevel),
			"reason": "upgrade",
		})
	}
	if proposed {
		rc.Emit(domain.EventTierDowngradeProposed, map[string]any{
			"currentTier":  string(acc.TierLevel),
			"proposedTier": string(acc.PendingTier),
			"reason":       acc.PendingTierReason,
		})
	}
	rc.Metrics.Tier = acc.TierLevel
	rc.Metrics.PendingDowngrade = acc.PendingTier != ""

	span.SetAttributes(
		attribute.String("tier.current", string(acc.TierLevel)),
		attribute.String("tier.recommended", string(d.Recommended)),
	)
	span.End()
	return h.executeNext(rc)
}
