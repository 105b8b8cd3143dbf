package port

import (
	"context"
	"loyaltyhub/internal/service/loyalty/domain"
)

// EventPublisher 是领域事件的出站端口。
type EventPublisher interface {
	// Publish 发布一批事件。发布失败不回滚账本，调用方只记录日志。
	Publish(ctx context.Context, events ...domain.LoyaltyEvent) error
}
