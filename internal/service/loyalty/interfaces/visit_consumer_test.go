package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/infrastructure/memory"
)

// fakeReader 依次返回预置消息，取完后阻塞到 ctx 结束。
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingSink struct {
	mu     sync.Mutex
	causes []error
}

func (s *recordingSink) Handle(_ context.Context, _ kafka.Message, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causes = append(s.causes, cause)
	return nil
}

func jsonMessage(t *testing.T, v any) kafka.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: "loyalty-visits", Value: b}
}

func TestVisitConsumerRegistersAndRecords(t *testing.T) {
	svc := newTestService(t)
	reader := &fakeReader{msgs: []kafka.Message{
		jsonMessage(t, domain.VisitRecorded{EventID: "e-1", CustomerID: "c-new", AmountSpent: 120_000, VisitedAt: testNow}),
		{Topic: "loyalty-visits", Value: []byte("{broken")},
		jsonMessage(t, domain.VisitRecorded{EventID: "e-2", CustomerID: "c-new", AmountSpent: -5, VisitedAt: testNow}),
	}}
	sink := &recordingSink{}
	consumer := NewLedgerConsumerAdapter(reader, "loyalty-visits", KindVisit, svc, sink, memory.NewDeduplicator(time.Hour))

	require.NoError(t, consumer.Start(context.Background()))
	require.Eventually(t, func() bool { return reader.commitCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	consumer.Stop(context.Background())

	details, err := svc.GetCustomerLoyaltyDetails(context.Background(), "c-new")
	require.NoError(t, err)
	assert.Equal(t, int64(1_200), details.Loyalty.CurrentPoints)
	assert.Equal(t, int64(1), details.Loyalty.TotalVisits)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.causes, 2)
}

func TestPointsConsumerAppliesAward(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.RegisterCustomer(context.Background(), "c-1")
	require.NoError(t, err)

	consumer := NewLedgerConsumerAdapter(&fakeReader{}, "loyalty-points", KindPoints, svc, &recordingSink{}, nil)
	msg := jsonMessage(t, domain.PointsAwarded{
		EventID:         "p-1",
		CustomerID:      "c-1",
		Points:          250,
		TransactionType: domain.TxEarnedBirthday,
		Description:     "birthday",
	})
	require.NoError(t, consumer.processMessage(context.Background(), msg))

	bad := jsonMessage(t, domain.PointsAwarded{CustomerID: "c-1", Points: 10, TransactionType: domain.TxRedeemedItem})
	assert.ErrorIs(t, consumer.processMessage(context.Background(), bad), domain.ErrInvalidTransactionType)

	details, err := svc.GetCustomerLoyaltyDetails(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), details.Loyalty.CurrentPoints)
}

func TestVisitConsumerSkipsRedeliveredMessages(t *testing.T) {
	svc := newTestService(t)
	visit := jsonMessage(t, domain.VisitRecorded{EventID: "e-1", CustomerID: "c-1", AmountSpent: 120_000, VisitedAt: testNow})
	byOrder := jsonMessage(t, domain.VisitRecorded{CustomerID: "c-1", AmountSpent: 50_000, VisitedAt: testNow, OrderReference: "ord-7"})
	byOrder.Offset = 11
	resentOrder := byOrder
	resentOrder.Offset = 12
	invalid := jsonMessage(t, domain.VisitRecorded{EventID: "e-bad", CustomerID: "c-1", AmountSpent: -5, VisitedAt: testNow})

	reader := &fakeReader{msgs: []kafka.Message{visit, visit, byOrder, resentOrder, invalid, invalid}}
	sink := &recordingSink{}
	consumer := NewLedgerConsumerAdapter(reader, "loyalty-visits", KindVisit, svc, sink, memory.NewDeduplicator(time.Hour))

	require.NoError(t, consumer.Start(context.Background()))
	require.Eventually(t, func() bool { return reader.commitCount() == 6 }, 2*time.Second, 10*time.Millisecond)
	consumer.Stop(context.Background())

	details, err := svc.GetCustomerLoyaltyDetails(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700), details.Loyalty.CurrentPoints)
	assert.Equal(t, int64(2), details.Loyalty.TotalVisits)

	// 失败的消息会释放 key，重新投递时再次处理并再次进入死信
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.causes, 2)
}
