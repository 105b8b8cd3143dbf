// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"loyaltyhub/internal/pkg/logger"
)

// 死信消息头，记录原始位置和失败原因。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderFailedAt          = "x-failed-at"
)

// FailureHandler 把处理失败的消息转投到死信主题，让消费者可以继续提交 offset 而不丢消息。
type FailureHandler struct {
	dlt         MessageWriter
	dltTopic    string
	maxElapsed  time.Duration
	maxAttempts uint
}

func NewFailureHandler(dlt MessageWriter, dltTopic string) *FailureHandler {
	return &FailureHandler{dlt: dlt, dltTopic: dltTopic, maxElapsed: 10 * time.Second, maxAttempts: 5}
}

// Handle 将 msg 连同失败原因写入死信主题。写入本身失败时按指数退避重试。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	dead := DeadLetter(msg, cause, time.Now())
	InjectTraceContext(ctx, &dead.Headers)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h.dlt.WriteMessages(ctx, dead)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(h.maxAttempts),
		backoff.WithMaxElapsedTime(h.maxElapsed),
	)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("🚨 failed to move message to dead letter topic")
		return errors.Wrap(err, "write dead letter")
	}
	logger.Ctx(ctx).Warn().
		Err(cause).
		Str("topic", msg.Topic).
		Str("dlt", h.dltTopic).
		Int64("offset", msg.Offset).
		Msg("message moved to dead letter topic")
	return nil
}

// DeadLetter 构造死信消息，保留原始 key、value 和消息头。
func DeadLetter(msg kafka.Message, cause error, at time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+6)
	for _, h := range msg.Headers {
		headers = append(headers, h)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", errors.Cause(cause)))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderFailedAt, Value: []byte(at.UTC().Format(time.RFC3339))},
	)
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}
