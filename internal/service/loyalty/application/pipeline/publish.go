// internal/service/loyalty/application/pipeline/publish.go
package pipeline

import "loyaltyhub/internal/pkg/logger"

// PublishHandler 发布重算产生的事件。发布失败不回滚已持久化的结果。
type PublishHandler struct {
	NextHandler
}

func (h *PublishHandler) Handle(rc *RecomputeContext) error {
	if len(rc.Events) > 0 {
		ctx, span := rc.Tracer.Start(rc.Ctx, "pipeline.Publish")
		if err := rc.Stores.Publisher.Publish(ctx, rc.Events...); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Warn().Err(err).Int("events", len(rc.Events)).Msg("failed to publish loyalty events")
		}
		span.End()
	}
	return h.executeNext(rc)
}
