package port

import (
	"context"
	"errors"
)

// ErrLockTimeout 表示在 ctx 截止前没有拿到锁。
var ErrLockTimeout = errors.New("timed out acquiring customer lock")

// CustomerLocker 是单客户互斥的出站端口。
// 同一客户的账本写入和持久化重算必须在 Lock 与 unlock 之间串行执行，不同客户互不影响。
type CustomerLocker interface {
	// Lock 阻塞直到拿到 customerID 的独占锁或 ctx 结束。返回的 unlock 必须被调用且只能调用一次。
	Lock(ctx context.Context, customerID string) (unlock func(), err error)
}
