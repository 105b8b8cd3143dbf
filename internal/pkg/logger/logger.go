// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Init 根据配置初始化全局 zerolog 日志器。
// pretty 为 true 时输出便于本地阅读的控制台格式。
func Init(serviceName, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var base zerolog.Logger
	if pretty {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	} else {
		base = zerolog.New(os.Stderr)
	}
	zerolog.DefaultContextLogger = ptr(base.With().Timestamp().Str("service", serviceName).Logger())
}

// Ctx 返回绑定了链路信息的日志器。
// 如果 ctx 中存在有效的 Span，会自动附带 trace_id 和 span_id，方便在 Jaeger 中反查。
func Ctx(ctx context.Context) *zerolog.Logger {
	// 未注入日志器时 zerolog.Ctx 会回落到 DefaultContextLogger
	l := zerolog.Ctx(ctx)

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	withTrace := l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &withTrace
}

// WithCustomer 把 customer_id 绑定到 ctx 上的日志器，后续 Ctx(ctx) 都会带上这个字段。
func WithCustomer(ctx context.Context, customerID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("customer_id", customerID).Logger()
	return l.WithContext(ctx)
}

func ptr[T any](v T) *T { return &v }
