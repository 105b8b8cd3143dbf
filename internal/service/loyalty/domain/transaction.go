// internal/service/loyalty/domain/transaction.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType 是积分流水的类型标签。
type TransactionType string

const (
	TxEarnedPurchase     TransactionType = "EARNED_PURCHASE"
	TxEarnedBonus        TransactionType = "EARNED_BONUS"
	TxEarnedReferral     TransactionType = "EARNED_REFERRAL"
	TxEarnedBirthday     TransactionType = "EARNED_BIRTHDAY"
	TxRedeemedDiscount   TransactionType = "REDEEMED_DISCOUNT"
	TxRedeemedItem       TransactionType = "REDEEMED_ITEM"
	TxAdjustmentAdd      TransactionType = "ADJUSTMENT_ADD"
	TxAdjustmentSubtract TransactionType = "ADJUSTMENT_SUBTRACT"
	TxExpired            TransactionType = "EXPIRED"
)

// Valid 判断是否为已知的流水类型。
func (t TransactionType) Valid() bool {
	switch t {
	case TxEarnedPurchase, TxEarnedBonus, TxEarnedReferral, TxEarnedBirthday,
		TxRedeemedDiscount, TxRedeemedItem,
		TxAdjustmentAdd, TxAdjustmentSubtract, TxExpired:
		return true
	}
	return false
}

// IsCredit 表示该类型的流水只能是正向变动。
func (t TransactionType) IsCredit() bool {
	switch t {
	case TxEarnedPurchase, TxEarnedBonus, TxEarnedReferral, TxEarnedBirthday, TxAdjustmentAdd:
		return true
	}
	return false
}

// IsEarn 表示积分发放类流水（不含人工调整）。
func (t TransactionType) IsEarn() bool {
	return t.IsCredit() && t != TxAdjustmentAdd
}

// IsRedemption 表示兑换类流水。
func (t TransactionType) IsRedemption() bool {
	return t == TxRedeemedDiscount || t == TxRedeemedItem
}

// PointsFlow 是统计口径下的积分流向。
type PointsFlow string

const (
	FlowIssued             PointsFlow = "issued"
	FlowRedeemed           PointsFlow = "redeemed"
	FlowExpired            PointsFlow = "expired"
	FlowAdjustmentAdd      PointsFlow = "adjustment_add"
	FlowAdjustmentSubtract PointsFlow = "adjustment_subtract"
)

// Flow 把流水类型归入统计口径，未知类型返回空串。
func (t TransactionType) Flow() PointsFlow {
	switch {
	case t.IsEarn():
		return FlowIssued
	case t.IsRedemption():
		return FlowRedeemed
	case t == TxExpired:
		return FlowExpired
	case t == TxAdjustmentAdd:
		return FlowAdjustmentAdd
	case t == TxAdjustmentSubtract:
		return FlowAdjustmentSubtract
	}
	return ""
}

// LoyaltyTransaction 是账本中的一条不可变流水。
// 一旦写入就不会被修改或删除，纠错通过追加一条反向流水完成。
type LoyaltyTransaction struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customerId"`
	PointsChange   int64           `json:"pointsChange"`
	Type           TransactionType `json:"transactionType"`
	Description    string          `json:"description"`
	OrderReference string          `json:"orderReference,omitempty"`
	BalanceAfter   int64           `json:"balanceAfter"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func newTransaction(customerID string, delta int64, txType TransactionType, description, orderRef string, balanceAfter int64, now time.Time) *LoyaltyTransaction {
	return &LoyaltyTransaction{
		ID:             uuid.NewString(),
		CustomerID:     customerID,
		PointsChange:   delta,
		Type:           txType,
		Description:    description,
		OrderReference: orderRef,
		BalanceAfter:   balanceAfter,
		CreatedAt:      now,
	}
}

// FoldBalance 按创建顺序累加所有流水，得到权威余额。
// 调用方需保证 txs 已按创建顺序排列。
func FoldBalance(txs []*LoyaltyTransaction) int64 {
	var balance int64
	for _, tx := range txs {
		balance += tx.PointsChange
	}
	return balance
}

// LedgerTotals 是账本层面的汇总口径。
type LedgerTotals struct {
	PointsIssued   int64
	PointsRedeemed int64
	PointsExpired  int64
	Adjustments    int64
}

// AddTypeSum 把某一类型流水的积分合计计入汇总。
func (t *LedgerTotals) AddTypeSum(txType TransactionType, sum int64) {
	switch txType.Flow() {
	case FlowIssued:
		t.PointsIssued += sum
	case FlowRedeemed:
		t.PointsRedeemed -= sum
	case FlowExpired:
		t.PointsExpired -= sum
	case FlowAdjustmentAdd, FlowAdjustmentSubtract:
		t.Adjustments += sum
	}
}

// AddTypeSum 把某一类型流水的积分合计计入客户的账本汇总。
func (a *LedgerActivity) AddTypeSum(txType TransactionType, sum int64) {
	switch {
	case txType.IsEarn():
		a.PointsEarned += sum
	case txType.IsRedemption():
		a.PointsRedeemed -= sum
	}
}
