package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	failures int
	msgs     []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func headerMap(hs []kafka.Header) map[string]string {
	out := map[string]string{}
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestDeadLetter_PreservesOriginAndCause(t *testing.T) {
	msg := kafka.Message{
		Topic: "loyalty.visits", Partition: 3, Offset: 42,
		Key: []byte("cust-1"), Value: []byte(`{"bad":`),
		Headers: []kafka.Header{{Key: "traceparent", Value: []byte("00-abc")}},
	}

	dead := DeadLetter(msg, errors.New("unexpected end of JSON input"), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	h := headerMap(dead.Headers)
	assert.Equal(t, "loyalty.visits", h[HeaderOriginalTopic])
	assert.Equal(t, "3", h[HeaderOriginalPartition])
	assert.Equal(t, "42", h[HeaderOriginalOffset])
	assert.Equal(t, "unexpected end of JSON input", h[HeaderExceptionMessage])
	assert.Equal(t, "*errors.errorString", h[HeaderExceptionFqcn])
	assert.Equal(t, "2026-01-01T00:00:00Z", h[HeaderFailedAt])
	assert.Equal(t, "00-abc", h["traceparent"])
	assert.Equal(t, msg.Key, dead.Key)
	assert.Equal(t, msg.Value, dead.Value)
}

func TestFailureHandler_RetriesDLTWrites(t *testing.T) {
	w := &recordingWriter{failures: 2}
	h := NewFailureHandler(w, "loyalty.visits.dlt")

	err := h.Handle(context.Background(), kafka.Message{Topic: "loyalty.visits"}, errors.New("boom"))

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "boom", headerMap(w.msgs[0].Headers)[HeaderExceptionMessage])
}

func TestKafkaHeaderCarrier(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Equal(t, "3", c.Get("a"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}
