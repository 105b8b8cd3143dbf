// internal/service/loyalty/application/statistics.go
package application

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"loyaltyhub/internal/service/loyalty/domain"
)

const defaultTopN = 10

// GetLoyaltyStatistics 汇总积分和等级统计。
// Tier / Segment 过滤作用于账户口径（活跃积分、人均、排行、等级分布），
// From / To 作用于流水口径（发放、兑换、过期、调整）。
func (s *LoyaltyService) GetLoyaltyStatistics(ctx context.Context, f StatisticsFilter) (*LoyaltyStatistics, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetLoyaltyStatistics")
	defer span.End()

	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, errors.Wrap(ErrInvalidRequest, "statistics range ends before it starts")
	}
	accounts, err := s.accounts.List(ctx, domain.AccountFilter{Tier: f.Tier, Segment: f.Segment, ActiveOnly: true})
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "list accounts")
	}
	totals, err := s.ledger.Totals(ctx, domain.LedgerFilter{From: f.From, To: f.To})
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "aggregate ledger")
	}

	out := &LoyaltyStatistics{
		TotalPointsIssued:   totals.PointsIssued,
		TotalPointsRedeemed: totals.PointsRedeemed,
		TotalPointsExpired:  totals.PointsExpired,
		NetAdjustments:      totals.Adjustments,
		CustomerCount:       len(accounts),
		TierDistribution:    make(map[domain.TierLevel]int, len(domain.AllTiers)),
		TopLoyaltyCustomers: []TopCustomer{},
	}
	for _, t := range domain.AllTiers {
		out.TierDistribution[t] = 0
	}
	for _, acc := range accounts {
		out.ActivePoints += acc.CurrentPoints
		out.TierDistribution[acc.TierLevel]++
	}
	if len(accounts) > 0 {
		out.AveragePointsPerCustomer = math.Round(float64(out.ActivePoints)/float64(len(accounts))*100) / 100
	}

	ranked := append([]*domain.LoyaltyAccount(nil), accounts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].CurrentPoints != ranked[j].CurrentPoints {
			return ranked[i].CurrentPoints > ranked[j].CurrentPoints
		}
		if ranked[i].LifetimeSpent != ranked[j].LifetimeSpent {
			return ranked[i].LifetimeSpent > ranked[j].LifetimeSpent
		}
		return ranked[i].CustomerID < ranked[j].CustomerID
	})
	n := f.TopN
	if n <= 0 {
		n = defaultTopN
	}
	for _, acc := range ranked[:min(n, len(ranked))] {
		out.TopLoyaltyCustomers = append(out.TopLoyaltyCustomers, TopCustomer{
			CustomerID:    acc.CustomerID,
			CurrentPoints: acc.CurrentPoints,
			LifetimeSpent: acc.LifetimeSpent,
			TierLevel:     acc.TierLevel,
		})
	}
	return out, nil
}
