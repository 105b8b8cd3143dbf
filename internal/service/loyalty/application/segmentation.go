// internal/service/loyalty/application/segmentation.go
package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain"
)

// recentMovementLimit 是分群分析中返回的最近变化条数。
const recentMovementLimit = 20

func emptySegmentDistribution() map[domain.Segment]int {
	out := make(map[domain.Segment]int, len(domain.AllSegments))
	for _, s := range domain.AllSegments {
		out[s] = 0
	}
	return out
}

// UpdateAllCustomerSegments 批量重算全部激活客户。
// 不持有全局锁，按客户并发（受 Parallelism 限制），每个客户仍然在自己的锁内重算。
// 单个客户失败只计入报告，不影响其它客户。重复执行是幂等的。
func (s *LoyaltyService) UpdateAllCustomerSegments(ctx context.Context) (*SegmentationReport, error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateAllCustomerSegments")
	defer span.End()

	ids, err := s.accounts.ListCustomerIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list customers")
	}
	report := &SegmentationReport{
		SegmentDistribution: emptySegmentDistribution(),
		StartedAt:           s.now(),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := s.recompute(ctx, id, TriggerBatch)
			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			if err != nil {
				report.Failed++
				report.Failures = append(report.Failures, id)
				metrics.BatchRefreshCustomers.WithLabelValues("failed").Inc()
				logger.Ctx(ctx).Warn().Err(err).Str("customer_id", id).Msg("batch recompute failed for customer")
				return nil
			}
			if out.SegmentChanged {
				report.Changed++
			}
			report.SegmentDistribution[out.Segment]++
			metrics.BatchRefreshCustomers.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(report.Failures)
	report.FinishedAt = s.now()

	span.SetAttributes(
		attribute.Int("batch.processed", report.Processed),
		attribute.Int("batch.changed", report.Changed),
		attribute.Int("batch.failed", report.Failed),
	)
	logger.Ctx(ctx).Info().
		Int("processed", report.Processed).
		Int("changed", report.Changed).
		Int("failed", report.Failed).
		Msg("✅ Customer segments refreshed")
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// GetSegmentAnalysis 汇总分群分布、最近的分群变化、可升级客户和洞察。
func (s *LoyaltyService) GetSegmentAnalysis(ctx context.Context) (*SegmentAnalysis, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetSegmentAnalysis")
	defer span.End()

	assignments, err := s.segments.ListAssignments(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list segment assignments")
	}
	movements, err := s.segments.RecentMovements(ctx, recentMovementLimit)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list segment movements")
	}
	if movements == nil {
		movements = []domain.SegmentMovement{}
	}

	engines := s.engines.Load()
	out := &SegmentAnalysis{
		TotalCustomers:       len(assignments),
		SegmentDistribution:  emptySegmentDistribution(),
		RecentMovements:      movements,
		UpgradeableCustomers: []domain.UpgradeCandidate{},
	}
	for _, a := range assignments {
		out.SegmentDistribution[a.Segment]++
		if c := engines.RFM.UpgradeCandidate(a); c != nil {
			out.UpgradeableCustomers = append(out.UpgradeableCustomers, *c)
		}
	}
	sort.Slice(out.UpgradeableCustomers, func(i, j int) bool {
		a, b := out.UpgradeableCustomers[i], out.UpgradeableCustomers[j]
		if a.Gap != b.Gap {
			return a.Gap < b.Gap
		}
		return a.CustomerID < b.CustomerID
	})
	out.Insights = segmentInsights(out, engines.Config.RFM.UpgradeGap)
	return out, nil
}

// segmentInsights 根据分析结果生成固定格式的洞察，相同输入得到相同输出。
func segmentInsights(a *SegmentAnalysis, upgradeGap float64) []string {
	if a.TotalCustomers == 0 {
		return []string{"no customers have been segmented yet"}
	}
	insights := []string{}
	total := float64(a.TotalCustomers)
	for i := len(domain.AllSegments) - 1; i >= 0; i-- {
		seg := domain.AllSegments[i]
		if n := a.SegmentDistribution[seg]; n > 0 {
			insights = append(insights, fmt.Sprintf("%s customers make up %.1f%% of the base (%d)", seg, float64(n)/total*100, n))
		}
	}
	if share := float64(a.SegmentDistribution[domain.SegmentNew]) / total; share > 0.4 {
		insights = append(insights, "more than 40% of customers are NEW; second-visit incentives have the widest reach")
	}
	if share := float64(a.SegmentDistribution[domain.SegmentVIP]) / total; share > 0 && share < 0.05 {
		insights = append(insights, "VIP customers are under 5% of the base; protect them with dedicated retention offers")
	}

	var up, down int
	for _, m := range a.RecentMovements {
		switch {
		case m.To.Rank() > m.From.Rank():
			up++
		case m.To.Rank() < m.From.Rank():
			down++
		}
	}
	if len(a.RecentMovements) > 0 {
		insights = append(insights, fmt.Sprintf("%d of the last %d segment movements were upgrades and %d were downgrades", up, len(a.RecentMovements), down))
	}
	if down > up {
		insights = append(insights, "downgrades outnumber upgrades in recent movements; review win-back campaigns")
	}

	if n := len(a.UpgradeableCustomers); n > 0 {
		levers := map[string]int{}
		for _, c := range a.UpgradeableCustomers {
			levers[c.Lever]++
		}
		names := make([]string, 0, len(levers))
		for k := range levers {
			names = append(names, k)
		}
		sort.Slice(names, func(i, j int) bool {
			if levers[names[i]] != levers[names[j]] {
				return levers[names[i]] > levers[names[j]]
			}
			return names[i] < names[j]
		})
		insights = append(insights, fmt.Sprintf("%d customers are within %.0f points of the next segment; most common lever is %s", n, upgradeGap, names[0]))
	}
	return insights
}
