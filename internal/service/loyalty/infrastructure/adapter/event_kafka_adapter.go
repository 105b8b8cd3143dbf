// internal/service/loyalty/infrastructure/adapter/event_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

const eventTypeHeader = "x-event-type"

// EventKafkaAdapter 实现了 port.EventPublisher，把领域事件写入 Kafka。
// 消息 key 为客户 ID，同一客户的事件落在同一分区，保持顺序。
type EventKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewEventKafkaAdapter(writer mq.MessageWriter) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

var _ port.EventPublisher = (*EventKafkaAdapter)(nil)

func (a *EventKafkaAdapter) Publish(ctx context.Context, events ...domain.LoyaltyEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal loyalty event %s: %w", ev.Type, err)
		}
		msg := kafka.Message{
			Key:     []byte(ev.CustomerID),
			Value:   body,
			Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(ev.Type)}},
		}
		mq.InjectTraceContext(ctx, &msg.Headers)
		msgs = append(msgs, msg)
	}
	if err := a.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.EventsPublished.WithLabelValues("kafka", "error").Add(float64(len(msgs)))
		return fmt.Errorf("failed to publish %d loyalty events: %w", len(msgs), err)
	}
	metrics.EventsPublished.WithLabelValues("kafka", "ok").Add(float64(len(msgs)))
	return nil
}
