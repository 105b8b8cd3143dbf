package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/infrastructure/lock"
	"loyaltyhub/internal/service/loyalty/infrastructure/memory"
)

// unlistableAccounts 在列出客户时失败，其余操作委托给内存账本。
type unlistableAccounts struct {
	*memory.LedgerStore
}

func (unlistableAccounts) ListCustomerIDs(context.Context) ([]string, error) {
	return nil, errors.New("account listing unavailable")
}

func TestBatchRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1", "c-2", "c-3")
	for i := 0; i < 12; i++ {
		f.visit(t, "c-1", 900_000)
	}
	f.visit(t, "c-2", 50_000)

	first, err := f.svc.UpdateAllCustomerSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)
	assert.Zero(t, first.Failed)

	assignments, err := f.segments.ListAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, assignments, 3)

	second, err := f.svc.UpdateAllCustomerSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Processed)
	assert.Zero(t, second.Changed)
	assert.Equal(t, first.SegmentDistribution, second.SegmentDistribution)

	again, err := f.segments.ListAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, assignments, again)

	for _, seg := range domain.AllSegments {
		_, ok := second.SegmentDistribution[seg]
		assert.True(t, ok, "distribution should list %s", seg)
	}
}

func TestSegmentChangeIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1")
	for i := 0; i < 25; i++ {
		f.visit(t, "c-1", 500_000)
	}

	acc, err := f.ledger.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.SegmentNew, acc.Segment)

	changes := f.events.ofType(domain.EventSegmentChanged)
	require.NotEmpty(t, changes)
	assert.Equal(t, "NEW", changes[0].Payload["from"])

	analysis, err := f.svc.GetSegmentAnalysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.TotalCustomers)
	assert.Equal(t, 1, analysis.SegmentDistribution[acc.Segment])
	require.NotEmpty(t, analysis.RecentMovements)
	assert.Equal(t, acc.Segment, analysis.RecentMovements[0].To)
	assert.NotEmpty(t, analysis.Insights)
}

func TestSegmentAnalysisWithoutCustomers(t *testing.T) {
	f := newFixture(t)
	analysis, err := f.svc.GetSegmentAnalysis(context.Background())
	require.NoError(t, err)
	assert.Zero(t, analysis.TotalCustomers)
	assert.Empty(t, analysis.RecentMovements)
	assert.Empty(t, analysis.UpgradeableCustomers)
	assert.Equal(t, []string{"no customers have been segmented yet"}, analysis.Insights)
}

func TestCustomSegmentBoundaryIsStrict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "at-boundary", "above-boundary")
	f.visit(t, "at-boundary", 1_000_000)
	f.visit(t, "above-boundary", 1_000_001)

	created, err := f.svc.CreateCustomSegment(ctx, CreateCustomSegmentRequest{
		Name: "big spenders",
		Conditions: domain.ConditionGroup{
			Rules: []domain.SegmentRule{{Field: "lifetimeSpent", Operator: domain.OpGreater, Value: 1000000}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.CustomerCount)

	members, err := f.svc.CustomSegmentMembers(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"above-boundary"}, members.CustomerIDs)
}

func TestCustomSegmentMembershipFollowsRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1")

	created, err := f.svc.CreateCustomSegment(ctx, CreateCustomSegmentRequest{
		Name: "returning",
		Conditions: domain.ConditionGroup{
			Logic: domain.LogicOr,
			Rules: []domain.SegmentRule{
				{Field: "totalVisits", Operator: domain.OpGreater, Value: 1},
				{Field: "favouriteDish", Operator: domain.OpEquals, Value: "ramen"},
			},
		},
	})
	require.NoError(t, err)
	assert.Zero(t, created.CustomerCount)

	f.visit(t, "c-1", 1_000)
	f.visit(t, "c-1", 1_000)

	members, err := f.svc.CustomSegmentMembers(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1"}, members.CustomerIDs)

	results, err := f.svc.EvaluateCustomSegments(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Matched)
	require.Len(t, results[0].Rules, 2)
	assert.True(t, results[0].Rules[0].Matched)
	assert.False(t, results[0].Rules[1].Matched)

	// 停用后不再参与求值
	require.NoError(t, f.svc.SetCustomSegmentActive(ctx, created.ID, false))
	results, err = f.svc.EvaluateCustomSegments(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, results)

	active, err := f.svc.ListCustomSegments(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := f.svc.ListCustomSegments(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateCustomSegmentRejectsBadShapes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCustomSegment(ctx, CreateCustomSegmentRequest{Name: "empty"})
	assert.ErrorIs(t, err, domain.ErrInvalidRuleDefinition)

	_, err = f.svc.CreateCustomSegment(ctx, CreateCustomSegmentRequest{
		Name: "bad between",
		Conditions: domain.ConditionGroup{
			Rules: []domain.SegmentRule{{Field: "totalVisits", Operator: domain.OpBetween, Value: []any{1.0}}},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRuleDefinition)

	_, err = f.svc.CustomSegmentMembers(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSegmentNotFound)
}

func TestCreateCustomSegmentLeavesNothingBehindOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "c-1")

	svc := NewLoyaltyService(Deps{
		Accounts:       unlistableAccounts{f.ledger},
		Ledger:         f.ledger,
		Visits:         f.ledger,
		Segments:       f.segments,
		CustomSegments: f.custom,
		Snapshots:      f.snaps,
		Locker:         lock.NewLocalLocker(),
		Publisher:      f.events,
		Engines:        f.engines,
		Tracer:         noop.NewTracerProvider().Tracer("test"),
	}, Options{Parallelism: 2, Clock: func() time.Time { return testNow }})

	_, err := svc.CreateCustomSegment(ctx, CreateCustomSegmentRequest{
		Name: "returning",
		Conditions: domain.ConditionGroup{
			Rules: []domain.SegmentRule{{Field: "totalVisits", Operator: domain.OpGreater, Value: 1}},
		},
	})
	require.Error(t, err)

	all, err := f.svc.ListCustomSegments(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}
