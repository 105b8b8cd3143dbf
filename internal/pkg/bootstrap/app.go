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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/nacos"
	"loyaltyhub/internal/pkg/tracing"
	"loyaltyhub/internal/pkg/utils"
)

type AppCtx struct {
	// Ctx 在收到退出信号时被取消，后台消费者应以它为根
	Ctx    context.Context
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
	Config *Config
	// OnShutdown 注册清理函数，关停时按注册的逆序执行
	OnShutdown func(name string, fn func(context.Context) error)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	log := logger.Ctx(context.Background())
	if info.Port == 0 {
		info.Port = cfg.App.Port
	}

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.App.TraceSampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("🛑 failed to initialize tracer provider")
	}

	// 2. Nacos 服务注册（可选）
	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.ServerAddrs != "" {
		serverConfigs, err := createNacosServerConfigs(cfg.Infra.Nacos.ServerAddrs)
		if err != nil {
			log.Fatal().Err(err).Msg("🛑 invalid Nacos server address format")
		}
		clientConfig := createNacosClientConfig(cfg.Infra.Nacos.Namespace)
		namingClient, err = nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("🛑 failed to initialize nacos client")
		}
		ip, err = utils.GetOutboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("🛑 failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("🛑 failed to register service with nacos")
		}
	}

	// 3. 创建并启动 HTTP Server
	runCtx, stop := context.WithCancel(context.Background())
	var hooks []shutdownHook
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{
			Ctx:    runCtx,
			Mux:    mux,
			Nacos:  namingClient,
			Config: cfg,
			OnShutdown: func(name string, fn func(context.Context) error) {
				hooks = append(hooks, shutdownHook{name: name, fn: fn})
			},
		})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("🛑 could not listen")
		}
	}()

	// 4. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Str("service", info.ServiceName).Msg("Shutting down service...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a. 先从 Nacos 注销，停止接收新流量
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		namingClient.Close()
	}
	if nacosConfigClient != nil {
		nacosConfigClient.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	// c. 业务组件（消费者、连接池等），后进先出
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			log.Error().Err(err).Str("component", hooks[i].name).Msg("Error during shutdown")
		}
	}

	// d. 最后关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}
	log.Info().Str("service", info.ServiceName).Msg("🛑 Service gracefully shut down")
}
