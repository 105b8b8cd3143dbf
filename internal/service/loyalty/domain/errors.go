// internal/service/loyalty/domain/errors.go
package domain

import "errors"

// 领域错误。接口层根据这些哨兵错误映射 HTTP 状态码，基础设施层用 errors.Wrap 包装后向上传递。
var (
	ErrInvalidAmount          = errors.New("invalid amount: quantity must be positive")
	ErrInsufficientPoints     = errors.New("insufficient points")
	ErrUnknownCustomer        = errors.New("unknown customer")
	ErrInvalidRuleDefinition  = errors.New("invalid rule definition")
	ErrConcurrentModification = errors.New("concurrent modification, retry")
	ErrLedgerInconsistency    = errors.New("ledger inconsistency: replayed balance differs from stored balance")
	ErrWritesHalted           = errors.New("ledger writes halted for customer pending reconciliation")
	ErrInvalidTransactionType = errors.New("transaction type not allowed for this operation")
	ErrNoPendingTierChange    = errors.New("no pending tier change")
	ErrInvalidTierChange      = errors.New("invalid tier change")
	ErrStaleTierChange        = errors.New("pending tier change no longer matches customer metrics")
	ErrCustomerInactive       = errors.New("customer account is inactive")
	ErrSegmentNotFound        = errors.New("custom segment not found")
	ErrInvalidConfig          = errors.New("invalid engine configuration")
	ErrAccountExists          = errors.New("loyalty account already exists")
)
