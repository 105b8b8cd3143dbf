// internal/service/loyalty/interfaces/visit_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

// MessageReader 是 *kafka.Reader 的最小接口，便于在测试中替换。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LedgerCommands 是消费者驱动的应用服务能力。
type LedgerCommands interface {
	RegisterCustomer(ctx context.Context, customerID string) (*application.LoyaltyView, error)
	RecordVisit(ctx context.Context, req application.RecordVisitRequest) (*application.LedgerResult, error)
	AddPoints(ctx context.Context, req application.AddPointsRequest) (*application.LedgerResult, error)
}

// DeadLetterSink 接收处理失败的消息。
type DeadLetterSink interface {
	Handle(ctx context.Context, msg kafka.Message, cause error) error
}

// MessageKind 决定如何解析消息体。
type MessageKind int

const (
	KindVisit MessageKind = iota
	KindPoints
)

// LedgerConsumerAdapter 是一个驱动适配器，监听收银和营销系统的 Kafka 消息并驱动账本。
// 投递语义是至少一次：处理失败的消息移交死信主题后照常提交 offset，
// 重复投递的消息由 dedup 按事件 id、订单号或 offset 挡掉。
type LedgerConsumerAdapter struct {
	reader  MessageReader
	topic   string
	kind    MessageKind
	svc     LedgerCommands
	failure DeadLetterSink
	dedup   port.MessageDeduplicator

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewLedgerConsumerAdapter(reader MessageReader, topic string, kind MessageKind, svc LedgerCommands, failure DeadLetterSink, dedup port.MessageDeduplicator) *LedgerConsumerAdapter {
	return &LedgerConsumerAdapter{
		reader:  reader,
		topic:   topic,
		kind:    kind,
		svc:     svc,
		failure: failure,
		dedup:   dedup,
	}
}

// Start 开始监听 Kafka 主题，处理在后台 goroutine 中进行。
func (a *LedgerConsumerAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Ledger consumer started")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 Ledger consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("topic", a.topic).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}
			a.handle(ctx, msg)
		}
	}()
	return nil
}

// handle 处理单条消息，失败时移交死信，随后提交 offset。
func (a *LedgerConsumerAdapter) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)

	key := a.messageKey(msg)
	claimed, err := a.claim(msgCtx, key)
	if !claimed {
		logger.Ctx(msgCtx).Info().Str("topic", a.topic).Str("message_key", key).Msg("duplicate message skipped")
		metrics.ConsumedMessages.WithLabelValues(a.topic, "duplicate").Inc()
		a.commit(ctx, msgCtx, msg)
		return
	}
	if err != nil {
		logger.Ctx(msgCtx).Warn().Err(err).Str("message_key", key).Msg("dedup store unavailable, processing without duplicate check")
	}

	outcome := "ok"
	if err := a.processMessage(msgCtx, msg); err != nil {
		outcome = "dead_letter"
		a.release(msgCtx, key)
		if dltErr := a.failure.Handle(msgCtx, msg, err); dltErr != nil {
			// 死信也写不进去时不提交，留给下一次重新投递
			metrics.ConsumedMessages.WithLabelValues(a.topic, "failed").Inc()
			return
		}
	}
	metrics.ConsumedMessages.WithLabelValues(a.topic, outcome).Inc()
	a.commit(ctx, msgCtx, msg)
}

func (a *LedgerConsumerAdapter) commit(ctx, msgCtx context.Context, msg kafka.Message) {
	if err := a.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(msgCtx).Error().Err(err).Str("topic", a.topic).Msg("failed to commit message")
	}
}

// Stop 优雅地停止消费者。
func (a *LedgerConsumerAdapter) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.reader.Close()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Ledger consumer stopped")
}

// processMessage 反序列化消息并调用应用服务。
func (a *LedgerConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	switch a.kind {
	case KindVisit:
		var event domain.VisitRecorded
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return errors.Wrap(err, "decode visit event")
		}
		req := application.RecordVisitRequest{
			CustomerID:     event.CustomerID,
			AmountSpent:    event.AmountSpent,
			VisitedAt:      event.VisitedAt,
			OrderReference: event.OrderReference,
			Rating:         event.Rating,
		}
		return a.withRegistration(ctx, event.CustomerID, func() error {
			_, err := a.svc.RecordVisit(ctx, req)
			return err
		})
	case KindPoints:
		var event domain.PointsAwarded
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return errors.Wrap(err, "decode points event")
		}
		req := application.AddPointsRequest{
			CustomerID:      event.CustomerID,
			Points:          event.Points,
			Description:     event.Description,
			TransactionType: event.TransactionType,
			OrderReference:  event.OrderReference,
		}
		return a.withRegistration(ctx, event.CustomerID, func() error {
			_, err := a.svc.AddPoints(ctx, req)
			return err
		})
	default:
		return errors.Errorf("unknown message kind %d", a.kind)
	}
}

// messageKey 是消息的去重 key：优先事件 id，其次客户 + 订单号，都没有时退回分区 offset。
func (a *LedgerConsumerAdapter) messageKey(msg kafka.Message) string {
	var ref struct {
		EventID        string `json:"eventId"`
		CustomerID     string `json:"customerId"`
		OrderReference string `json:"orderReference"`
	}
	_ = json.Unmarshal(msg.Value, &ref)
	switch {
	case ref.EventID != "":
		return fmt.Sprintf("%s:event:%s", a.topic, ref.EventID)
	case ref.OrderReference != "" && ref.CustomerID != "":
		return fmt.Sprintf("%s:order:%s:%s", a.topic, ref.CustomerID, ref.OrderReference)
	}
	return fmt.Sprintf("%s:offset:%d:%d", a.topic, msg.Partition, msg.Offset)
}

// claim 在没有配置去重或去重存储出错时放行。
func (a *LedgerConsumerAdapter) claim(ctx context.Context, key string) (bool, error) {
	if a.dedup == nil {
		return true, nil
	}
	ok, err := a.dedup.Claim(ctx, key)
	if err != nil {
		return true, err
	}
	return ok, nil
}

func (a *LedgerConsumerAdapter) release(ctx context.Context, key string) {
	if a.dedup == nil {
		return
	}
	if err := a.dedup.Release(ctx, key); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("message_key", key).Msg("failed to release message key")
	}
}

// withRegistration 遇到尚未开户的客户时先开户再重试一次。
func (a *LedgerConsumerAdapter) withRegistration(ctx context.Context, customerID string, fn func() error) error {
	err := fn()
	if !errors.Is(err, domain.ErrUnknownCustomer) || customerID == "" {
		return err
	}
	if _, regErr := a.svc.RegisterCustomer(ctx, customerID); regErr != nil {
		return errors.Wrap(regErr, "auto register customer")
	}
	logger.Ctx(ctx).Info().Str("customer_id", customerID).Msg("customer registered from event stream")
	return fn()
}
