package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/infrastructure/lock"
	"loyaltyhub/internal/service/loyalty/infrastructure/memory"
	"loyaltyhub/internal/service/loyalty/infrastructure/rule"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// recordingPublisher 记录发布过的事件。
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LoyaltyEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...domain.LoyaltyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) ofType(t domain.EventType) []domain.LoyaltyEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.LoyaltyEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc      *LoyaltyService
	ledger   *memory.LedgerStore
	segments *memory.SegmentStore
	custom   *memory.CustomSegmentStore
	snaps    *memory.SnapshotStore
	events   *recordingPublisher
	engines  *EngineHolder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engines, err := NewEngineHolder(domain.DefaultEngineConfig(), rule.NewCELCompilerAdapter())
	require.NoError(t, err)

	f := &fixture{
		ledger:   memory.NewLedgerStore(),
		segments: memory.NewSegmentStore(),
		custom:   memory.NewCustomSegmentStore(),
		snaps:    memory.NewSnapshotStore(),
		events:   &recordingPublisher{},
		engines:  engines,
	}
	f.svc = NewLoyaltyService(Deps{
		Accounts:       f.ledger,
		Ledger:         f.ledger,
		Visits:         f.ledger,
		Segments:       f.segments,
		CustomSegments: f.custom,
		Snapshots:      f.snaps,
		Locker:         lock.NewLocalLocker(),
		Publisher:      f.events,
		Engines:        engines,
		Tracer:         noop.NewTracerProvider().Tracer("test"),
	}, Options{
		Parallelism: 4,
		Clock:       func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.svc.RegisterCustomer(context.Background(), id)
		require.NoError(t, err)
	}
}

func (f *fixture) visit(t *testing.T, id string, amount int64) *LedgerResult {
	t.Helper()
	res, err := f.svc.RecordVisit(context.Background(), RecordVisitRequest{
		CustomerID:  id,
		AmountSpent: amount,
		VisitedAt:   testNow,
	})
	require.NoError(t, err)
	return res
}
