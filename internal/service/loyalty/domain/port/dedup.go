package port

import "context"

// MessageDeduplicator 记录已经处理过的入站消息，挡住至少一次投递带来的重复入账。
type MessageDeduplicator interface {
	// Claim 尝试占用 key。返回 false 表示该 key 已被处理或正在处理。
	Claim(ctx context.Context, key string) (bool, error)
	// Release 在处理失败后释放 key，允许之后重新投递的同一消息再次处理。
	Release(ctx context.Context, key string) error
}
