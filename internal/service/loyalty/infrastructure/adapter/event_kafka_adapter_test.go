package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/domain"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestEventKafkaAdapterKeysByCustomer(t *testing.T) {
	w := &recordingWriter{}
	a := NewEventKafkaAdapter(w)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	err := a.Publish(context.Background(),
		domain.NewEvent(domain.EventTierChanged, "c-1", at, map[string]any{"from": "BRONZE", "to": "SILVER"}),
		domain.NewEvent(domain.EventSegmentChanged, "c-2", at, nil),
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "c-1", string(w.msgs[0].Key))
	assert.Equal(t, "c-2", string(w.msgs[1].Key))

	var ev domain.LoyaltyEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, domain.EventTierChanged, ev.Type)
	assert.Equal(t, "SILVER", ev.Payload["to"])
}

func TestFanoutPublisherContinuesAfterFailure(t *testing.T) {
	broken := NewEventKafkaAdapter(&recordingWriter{err: errors.New("broker down")})
	ok := &recordingWriter{}
	p := NewFanoutPublisher(broken, NewEventKafkaAdapter(ok))

	err := p.Publish(context.Background(), domain.NewEvent(domain.EventRiskEscalated, "c-1", time.Now(), nil))
	assert.Error(t, err)
	assert.Len(t, ok.msgs, 1)
}
