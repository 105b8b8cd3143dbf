// internal/service/loyalty/application/pipeline/custom_segment.go
package pipeline

import (
	"go.opentelemetry.io/otel/attribute"

	"loyaltyhub/internal/service/loyalty/domain"
)

// CustomSegmentHandler 对所有激活的自定义分群求值。规则求值是全函数，不会失败。
type CustomSegmentHandler struct {
	NextHandler
}

func (h *CustomSegmentHandler) Handle(rc *RecomputeContext) error {
	_, span := rc.Tracer.Start(rc.Ctx, "pipeline.CustomSegments")
	rc.CustomResults = domain.EvaluateActive(rc.CustomSegments, rc.Metrics.Facts())
	matched := 0
	for _, r := range rc.CustomResults {
		if r.Matched {
			matched++
		}
	}
	span.SetAttributes(
		attribute.Int("custom.evaluated", len(rc.CustomResults)),
		attribute.Int("custom.matched", matched),
	)
	span.End()
	return h.executeNext(rc)
}
