// internal/service/loyalty/infrastructure/adapter/fanout_publisher.go
package adapter

import (
	"context"
	"errors"

	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// FanoutPublisher 把同一批事件发给多个下游（Kafka、看板推送），某个下游失败不影响其它下游。
type FanoutPublisher struct {
	sinks []port.EventPublisher
}

func NewFanoutPublisher(sinks ...port.EventPublisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks}
}

func (p *FanoutPublisher) Publish(ctx context.Context, events ...domain.LoyaltyEvent) error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiscardPublisher 丢弃所有事件，用于未配置 Kafka 的本地运行。
type DiscardPublisher struct{}

func (DiscardPublisher) Publish(context.Context, ...domain.LoyaltyEvent) error { return nil }
