package port

import (
	"context"
	"loyaltyhub/internal/service/loyalty/domain"
)

// SignalSource 是互动信号的出站端口。
// 它封装了与反馈、短信触达等外部协作方通信的技术细节。
type SignalSource interface {
	// Signals 返回客户的反馈和触达统计。协作方不可用时返回错误，调用方按中性值处理。
	Signals(ctx context.Context, customerID string) (domain.EngagementSignals, error)
}
