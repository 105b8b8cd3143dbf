// internal/service/loyalty/application/custom_segments.go
package application

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/loyalty/domain"
)

// CreateCustomSegment 校验规则，对现有客户求值得到初始成员，再把定义和成员一起保存。
// 规则只校验形状，引用未知字段的规则可以保存，但对任何客户都不成立。
func (s *LoyaltyService) CreateCustomSegment(ctx context.Context, req CreateCustomSegmentRequest) (*CustomSegmentCreated, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateCustomSegment")
	defer span.End()
	span.SetAttributes(attribute.String("segment.name", req.Name))

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	def, err := domain.NewCustomSegment(req.Name, req.Description, req.Conditions, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	members, err := s.populate(ctx, domain.CompileSegment(def))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.customSegments.Create(ctx, def, members); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "save custom segment")
	}

	span.SetAttributes(attribute.String("segment.id", def.ID), attribute.Int("segment.members", len(members)))
	logger.Ctx(ctx).Info().Str("segment_id", def.ID).Str("name", def.Name).Int("members", len(members)).Msg("✅ Custom segment created")
	return &CustomSegmentCreated{ID: def.ID, CustomerCount: len(members)}, nil
}

// populate 对全部激活客户并发求值，返回排好序的匹配客户。
// 只读操作，不需要客户锁；之后每个客户的重算会继续维护成员关系。
func (s *LoyaltyService) populate(ctx context.Context, seg *domain.CompiledSegment) ([]string, error) {
	ids, err := s.accounts.ListCustomerIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list customers")
	}
	var mu sync.Mutex
	members := []string{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for _, id := range ids {
		g.Go(func() error {
			facts, err := s.factsFor(gctx, id)
			if errors.Is(err, domain.ErrUnknownCustomer) {
				return nil
			}
			if err != nil {
				return err
			}
			if seg.Evaluate(facts).Matched {
				mu.Lock()
				members = append(members, id)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

// factsFor 构建客户当前的规则事实。等级和分群取自账户上最近一次重算的结果。
func (s *LoyaltyService) factsFor(ctx context.Context, customerID string) (domain.Facts, error) {
	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMetrics(ctx, acc, s.fetchSignals(ctx, customerID), s.now())
	if err != nil {
		return nil, err
	}
	return m.Facts(), nil
}

// ListCustomSegments 列出自定义分群定义，activeOnly 为 true 时只返回激活的。
func (s *LoyaltyService) ListCustomSegments(ctx context.Context, activeOnly bool) ([]*domain.CustomSegmentDefinition, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListCustomSegments")
	defer span.End()

	defs, err := s.customSegments.List(ctx, activeOnly)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list custom segments")
	}
	if defs == nil {
		defs = []*domain.CustomSegmentDefinition{}
	}
	return defs, nil
}

// EvaluateCustomSegments 对单个客户求值全部激活的自定义分群，返回每条规则的求值轨迹。只读，不更新成员关系。
func (s *LoyaltyService) EvaluateCustomSegments(ctx context.Context, customerID string) ([]domain.SegmentEvaluation, error) {
	ctx, span := s.tracer.Start(ctx, "app.EvaluateCustomSegments")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	segments, err := s.compiledSegments(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	facts, err := s.factsFor(ctx, customerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return domain.EvaluateActive(segments, facts), nil
}

// CustomSegmentMembers 返回分群当前的成员。
func (s *LoyaltyService) CustomSegmentMembers(ctx context.Context, segmentID string) (*CustomSegmentMembers, error) {
	ctx, span := s.tracer.Start(ctx, "app.CustomSegmentMembers")
	defer span.End()
	span.SetAttributes(attribute.String("segment.id", segmentID))

	if _, err := s.customSegments.Get(ctx, segmentID); err != nil {
		return nil, err
	}
	ids, err := s.customSegments.Members(ctx, segmentID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "load custom segment members")
	}
	if ids == nil {
		ids = []string{}
	}
	return &CustomSegmentMembers{SegmentID: segmentID, CustomerIDs: ids}, nil
}

// SetCustomSegmentActive 激活或停用分群。重新激活时重新计算成员。
func (s *LoyaltyService) SetCustomSegmentActive(ctx context.Context, segmentID string, active bool) error {
	ctx, span := s.tracer.Start(ctx, "app.SetCustomSegmentActive")
	defer span.End()
	span.SetAttributes(attribute.String("segment.id", segmentID), attribute.Bool("segment.active", active))

	if err := s.customSegments.SetActive(ctx, segmentID, active, s.now()); err != nil {
		span.RecordError(err)
		return err
	}
	if !active {
		return nil
	}
	def, err := s.customSegments.Get(ctx, segmentID)
	if err != nil {
		return err
	}
	members, err := s.populate(ctx, domain.CompileSegment(def))
	if err != nil {
		span.RecordError(err)
		return err
	}
	return s.customSegments.ReplaceMembers(ctx, segmentID, members)
}
