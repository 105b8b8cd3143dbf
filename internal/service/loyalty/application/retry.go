// internal/service/loyalty/application/retry.go
package application

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/loyalty/domain"
)

// RetryPolicy 控制乐观锁冲突的重试。
type RetryPolicy struct {
	MaxTries   uint
	MaxElapsed time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 5, MaxElapsed: 3 * time.Second}
}

// withRetry 只对 ErrConcurrentModification 做指数退避重试，其它错误立即返回。
// 重试耗尽时把 ErrConcurrentModification 返回给调用方。
func withRetry[T any](ctx context.Context, p RetryPolicy, operation string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		if attempt > 0 {
			metrics.ConflictRetries.WithLabelValues(operation).Inc()
		}
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, domain.ErrConcurrentModification) {
			return v, err
		}
		return v, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	)
}
