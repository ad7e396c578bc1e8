// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// base 是进程级别的根 logger，在 Init 之后所有日志都带上 service 字段。
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化根 logger。必须在服务启动早期调用一次。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	base = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// L 返回根 logger，用于没有请求上下文的场景（启动、关停）。
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回一个绑定了当前 trace 上下文的 logger。
// 如果 ctx 中存在有效的 Span，则自动附加 trace_id / span_id 字段，
// 方便在 Jaeger 和日志之间互相定位。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}
