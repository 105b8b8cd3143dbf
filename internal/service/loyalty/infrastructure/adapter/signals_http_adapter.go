// internal/service/loyalty/infrastructure/adapter/signals_http_adapter.go
package adapter

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"loyaltyhub/internal/pkg/httpclient"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/service/loyalty/domain/port"
)

const signalsPath = "/api/v1/engagement/signals"

// Discoverer 是服务发现的最小接口，由 nacos.Client 实现。
type Discoverer interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// SignalsHTTPAdapter 是 port.SignalSource 的 HTTP 实现。
// 通过 Nacos 找到互动服务的健康实例，拉取客户的反馈和触达统计。
type SignalsHTTPAdapter struct {
	client    *httpclient.Client
	discovery Discoverer
	service   string
	timeout   time.Duration
}

func NewSignalsHTTPAdapter(client *httpclient.Client, discovery Discoverer, service string, timeout time.Duration) *SignalsHTTPAdapter {
	return &SignalsHTTPAdapter{client: client, discovery: discovery, service: service, timeout: timeout}
}

var _ port.SignalSource = (*SignalsHTTPAdapter)(nil)

func (a *SignalsHTTPAdapter) Signals(ctx context.Context, customerID string) (domain.EngagementSignals, error) {
	ip, p, err := a.discovery.DiscoverServiceInstance(a.service)
	if err != nil {
		return domain.EngagementSignals{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var out domain.EngagementSignals
	target := fmt.Sprintf("http://%s:%d%s", ip, p, signalsPath)
	if err := a.client.GetJSON(ctx, target, url.Values{"customer_id": {customerID}}, &out); err != nil {
		return domain.EngagementSignals{}, err
	}
	return out, nil
}

// NoSignals 在没有配置互动服务时使用，所有客户都没有反馈和触达记录。
type NoSignals struct{}

func (NoSignals) Signals(context.Context, string) (domain.EngagementSignals, error) {
	return domain.EngagementSignals{}, nil
}
