// internal/service/loyalty/domain/event.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType 是对外发布的领域事件类型。
type EventType string

const (
	EventPointsChanged         EventType = "PointsChanged"
	EventTierChanged           EventType = "TierChanged"
	EventTierDowngradeProposed EventType = "TierDowngradeProposed"
	EventSegmentChanged        EventType = "SegmentChanged"
	EventRiskEscalated         EventType = "RiskEscalated"
	EventLedgerInconsistency   EventType = "LedgerInconsistencyDetected"
)

// LoyaltyEvent 是发布到消息队列和看板推送的统一事件信封。
type LoyaltyEvent struct {
	EventID    string         `json:"eventId"`
	Type       EventType      `json:"type"`
	CustomerID string         `json:"customerId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
}

func NewEvent(t EventType, customerID string, at time.Time, payload map[string]any) LoyaltyEvent {
	return LoyaltyEvent{
		EventID:    uuid.NewString(),
		Type:       t,
		CustomerID: customerID,
		OccurredAt: at,
		Payload:    payload,
	}
}

// VisitRecorded 是上游收银系统投递到 Kafka 的到店事件。
type VisitRecorded struct {
	EventID        string    `json:"eventId"`
	CustomerID     string    `json:"customerId"`
	AmountSpent    int64     `json:"amountSpent"`
	VisitedAt      time.Time `json:"visitedAt"`
	OrderReference string    `json:"orderReference,omitempty"`
	Rating         int       `json:"rating,omitempty"`
}

// PointsAwarded 是营销系统投递的积分发放事件（生日、推荐、活动奖励）。
type PointsAwarded struct {
	EventID         string          `json:"eventId"`
	CustomerID      string          `json:"customerId"`
	Points          int64           `json:"points"`
	TransactionType TransactionType `json:"transactionType"`
	Description     string          `json:"description"`
	OrderReference  string          `json:"orderReference,omitempty"`
}
