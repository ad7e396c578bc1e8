// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mercato/internal/pkg/logger"
	"mercato/internal/tracing"
)

type AppCtx struct {
	Mux *http.ServeMux
}

// AppInfo 包含了启动服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	JaegerEndpoint   string
	RegisterHandlers func(appCtx AppCtx) // 允许服务注册自己独特的 HTTP 路由
}

// StartService 封装了通用的启动和优雅关停逻辑。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	// 1. 初始化 Tracer。Jaeger 未配置时跳过，服务仍可独立运行。
	var shutdownTracer func(context.Context) error
	if info.JaegerEndpoint != "" {
		tp, err := tracing.InitTracerProvider(info.ServiceName, info.JaegerEndpoint)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to initialize tracer provider")
		}
		shutdownTracer = tp.Shutdown
	}

	// 2. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		logger.L().Info().Int("port", info.Port).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 3. 阻塞直到收到退出信号或服务器异常退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.L().Info().Msgf("shutting down service %s...", info.ServiceName)
	case <-gctx.Done():
		logger.L().Error().Msg("http server exited unexpectedly")
	}

	// 4. 带超时的关停流程，按后进先出的顺序清理
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("error shutting down http server")
	}
	if shutdownTracer != nil {
		// 确保所有缓冲的 trace 都被发送出去
		if err := shutdownTracer(ctx); err != nil {
			logger.L().Error().Err(err).Msg("error shutting down tracer provider")
		}
	}

	if err := g.Wait(); err != nil {
		logger.L().Error().Err(err).Msg("server goroutine returned error")
	}
	logger.L().Info().Msgf("service %s gracefully shut down", info.ServiceName)
}
