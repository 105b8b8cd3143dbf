// internal/service/loyalty/infrastructure/persistence/mapper.go
package persistence

import (
	"gorm.io/datatypes"

	"loyaltyhub/internal/service/loyalty/domain"
)

func toDomainAccount(m *AccountModel) *domain.LoyaltyAccount {
	return &domain.LoyaltyAccount{
		CustomerID:        m.CustomerID,
		CurrentPoints:     m.CurrentPoints,
		LifetimeSpent:     m.LifetimeSpent,
		CurrentYearSpent:  m.CurrentYearSpent,
		YearOfSpend:       m.YearOfSpend,
		TotalVisits:       m.TotalVisits,
		TierLevel:         domain.TierLevel(m.TierLevel),
		LastVisitAt:       m.LastVisitAt,
		Segment:           domain.Segment(m.Segment),
		PendingTier:       domain.TierLevel(m.PendingTier),
		PendingTierReason: m.PendingTierReason,
		PendingTierSince:  m.PendingTierSince,
		PendingTierManual: m.PendingTierManual,
		WritesHalted:      m.WritesHalted,
		Active:            m.Active,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func fromDomainAccount(a *domain.LoyaltyAccount) *AccountModel {
	return &AccountModel{
		CustomerID:        a.CustomerID,
		CurrentPoints:     a.CurrentPoints,
		LifetimeSpent:     a.LifetimeSpent,
		CurrentYearSpent:  a.CurrentYearSpent,
		YearOfSpend:       a.YearOfSpend,
		TotalVisits:       a.TotalVisits,
		TierLevel:         string(a.TierLevel),
		LastVisitAt:       a.LastVisitAt,
		Segment:           string(a.Segment),
		PendingTier:       string(a.PendingTier),
		PendingTierReason: a.PendingTierReason,
		PendingTierSince:  a.PendingTierSince,
		PendingTierManual: a.PendingTierManual,
		WritesHalted:      a.WritesHalted,
		Active:            a.Active,
		Version:           a.Version,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// accountUpdates 列出 CAS 更新时写入的列。使用 map 是为了让零值（例如清空的降级建议）也被写入。
func accountUpdates(a *domain.LoyaltyAccount, nextVersion int64) map[string]any {
	return map[string]any{
		"current_points":      a.CurrentPoints,
		"lifetime_spent":      a.LifetimeSpent,
		"current_year_spent":  a.CurrentYearSpent,
		"year_of_spend":       a.YearOfSpend,
		"total_visits":        a.TotalVisits,
		"tier_level":          string(a.TierLevel),
		"last_visit_at":       a.LastVisitAt,
		"segment":             string(a.Segment),
		"pending_tier":        string(a.PendingTier),
		"pending_tier_reason": a.PendingTierReason,
		"pending_tier_since":  a.PendingTierSince,
		"pending_tier_manual": a.PendingTierManual,
		"writes_halted":       a.WritesHalted,
		"active":              a.Active,
		"version":             nextVersion,
		"updated_at":          a.UpdatedAt,
	}
}

func toDomainTransaction(m *TransactionModel) *domain.LoyaltyTransaction {
	return &domain.LoyaltyTransaction{
		ID:             m.ID,
		CustomerID:     m.CustomerID,
		PointsChange:   m.PointsChange,
		Type:           domain.TransactionType(m.Type),
		Description:    m.Description,
		OrderReference: m.OrderReference,
		BalanceAfter:   m.BalanceAfter,
		CreatedAt:      m.CreatedAt,
	}
}

func fromDomainTransaction(t *domain.LoyaltyTransaction) *TransactionModel {
	return &TransactionModel{
		ID:             t.ID,
		CustomerID:     t.CustomerID,
		PointsChange:   t.PointsChange,
		Type:           string(t.Type),
		Description:    t.Description,
		OrderReference: t.OrderReference,
		BalanceAfter:   t.BalanceAfter,
		CreatedAt:      t.CreatedAt,
	}
}

func toDomainVisit(m *VisitModel) *domain.Visit {
	return &domain.Visit{
		ID:             m.ID,
		CustomerID:     m.CustomerID,
		VisitedAt:      m.VisitedAt,
		AmountSpent:    m.AmountSpent,
		OrderReference: m.OrderReference,
		Rating:         m.Rating,
	}
}

func fromDomainVisit(v *domain.Visit) *VisitModel {
	return &VisitModel{
		ID:             v.ID,
		CustomerID:     v.CustomerID,
		VisitedAt:      v.VisitedAt,
		AmountSpent:    v.AmountSpent,
		OrderReference: v.OrderReference,
		Rating:         v.Rating,
	}
}

func toDomainAssignment(m *SegmentAssignmentModel) domain.SegmentAssignment {
	reasons := m.Reasons.Data()
	if reasons == nil {
		reasons = []string{}
	}
	return domain.SegmentAssignment{
		CustomerID:     m.CustomerID,
		Segment:        domain.Segment(m.Segment),
		SegmentScore:   m.SegmentScore,
		RecencyScore:   m.RecencyScore,
		FrequencyScore: m.FrequencyScore,
		MonetaryScore:  m.MonetaryScore,
		Reasons:        reasons,
		ComputedAt:     m.ComputedAt,
	}
}

func fromDomainAssignment(a domain.SegmentAssignment) *SegmentAssignmentModel {
	return &SegmentAssignmentModel{
		CustomerID:     a.CustomerID,
		Segment:        string(a.Segment),
		SegmentScore:   a.SegmentScore,
		RecencyScore:   a.RecencyScore,
		FrequencyScore: a.FrequencyScore,
		MonetaryScore:  a.MonetaryScore,
		Reasons:        datatypes.NewJSONType(a.Reasons),
		ComputedAt:     a.ComputedAt,
	}
}

func toDomainMovement(m *SegmentMovementModel) domain.SegmentMovement {
	return domain.SegmentMovement{
		CustomerID: m.CustomerID,
		From:       domain.Segment(m.FromSeg),
		To:         domain.Segment(m.ToSeg),
		Score:      m.Score,
		MovedAt:    m.MovedAt,
	}
}

func fromDomainMovement(m domain.SegmentMovement) *SegmentMovementModel {
	return &SegmentMovementModel{
		CustomerID: m.CustomerID,
		FromSeg:    string(m.From),
		ToSeg:      string(m.To),
		Score:      m.Score,
		MovedAt:    m.MovedAt,
	}
}

func toDomainCustomSegment(m *CustomSegmentModel) *domain.CustomSegmentDefinition {
	return &domain.CustomSegmentDefinition{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Root:        m.Conditions.Data(),
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func fromDomainCustomSegment(d *domain.CustomSegmentDefinition) *CustomSegmentModel {
	return &CustomSegmentModel{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Conditions:  datatypes.NewJSONType(d.Root),
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func toDomainSnapshot(m *HealthSnapshotModel) *domain.HealthSnapshot {
	return &domain.HealthSnapshot{
		CustomerID: m.CustomerID,
		Score:      m.Score,
		Level:      domain.HealthLevel(m.Level),
		Components: m.Components.Data(),
		Risk:       m.Risk.Data(),
		ComputedAt: m.ComputedAt,
	}
}

func fromDomainSnapshot(s domain.HealthSnapshot) *HealthSnapshotModel {
	return &HealthSnapshotModel{
		CustomerID: s.CustomerID,
		Score:      s.Score,
		Level:      string(s.Level),
		Components: datatypes.NewJSONType(s.Components),
		Risk:       datatypes.NewJSONType(s.Risk),
		ComputedAt: s.ComputedAt,
	}
}
