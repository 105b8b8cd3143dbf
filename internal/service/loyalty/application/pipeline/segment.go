// internal/service/loyalty/application/pipeline/segment.go
package pipeline

import (
	"go.opentelemetry.io/otel/attribute"

	"loyaltyhub/internal/service/loyalty/domain"
)

// SegmentHandler 计算内置 RFM 分群，分群变化时记录变化轨迹。
type SegmentHandler struct {
	NextHandler
}

func (h *SegmentHandler) Handle(rc *RecomputeContext) error {
	_, span := rc.Tracer.Start(rc.Ctx, "pipeline.Segment")
	acc := rc.Account
	a := rc.Engines.RFM.Assign(acc.CustomerID, rc.Metrics.RFMInput(), rc.Now)
	rc.Assignment = a
	if a.Segment != acc.Segment {
		rc.Movement = &domain.SegmentMovement{
			CustomerID: acc.CustomerID,
			From:       acc.Segment,
			To:         a.Segment,
			Score:      a.SegmentScore,
			MovedAt:    rc.Now,
		}
		rc.Emit(domain.EventSegmentChanged, map[string]any{
			"from":    string(acc.Segment),
			"to":      string(a.Segment),
			"score":   a.SegmentScore,
			"reasons": a.Reasons,
		})
		acc.Segment = a.Segment
		acc.UpdatedAt = rc.Now
		rc.MarkAccountDirty()
	}
	rc.Metrics.Segment = a.Segment

	span.SetAttributes(
		attribute.String("segment", string(a.Segment)),
		attribute.Float64("segment.score", a.SegmentScore),
	)
	span.End()
	return h.executeNext(rc)
}
