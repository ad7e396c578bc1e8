// cmd/payment-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"mercato/internal/pkg/bootstrap"
	"mercato/internal/pkg/httpclient"
	"mercato/internal/pkg/logger"
	"mercato/internal/pkg/redis"
	"mercato/internal/service/payment/application"
	"mercato/internal/service/payment/domain"
	"mercato/internal/service/payment/domain/port"
	"mercato/internal/service/payment/infrastructure"
	"mercato/internal/service/payment/infrastructure/adapter"
	"mercato/internal/service/payment/interfaces"
)

const serviceName = "payment-service"

// main 函数是应用的"组装根" (Composition Root)：
// 创建并组装所有依赖项，然后启动应用。基础设施逐项可降级，
// 没配 MySQL/Redis/Kafka 时退化为内存仓储 + 直通节流 + 丢弃事件，
// 方便本地起一个完全自包含的 mock 环境。
func main() {
	cfg, err := bootstrap.Load()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.App.ServiceName)

	repo := buildRepository(cfg)
	gateway := buildGateway(cfg)
	producer := buildProducer(cfg)
	throttle := buildThrottle(cfg)

	service := application.NewPaymentService(
		repo, gateway, producer, throttle,
		cfg.Msisdn.Rules,
		application.Config{
			Currency:  cfg.Gateway.Currency,
			Country:   cfg.Gateway.Country,
			Locale:    cfg.Gateway.Locale,
			NotifyURL: cfg.Gateway.NotifyURL,
			ReturnURL: cfg.Gateway.ReturnURL,
			CancelURL: cfg.Gateway.CancelURL,
		},
		otel.Tracer(serviceName),
	)
	handler := interfaces.NewPaymentHandler(service)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:    cfg.App.ServiceName,
		Port:           cfg.App.Port,
		JaegerEndpoint: cfg.Infra.Jaeger.Endpoint,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
	})
}

func buildRepository(cfg *bootstrap.Config) domain.OrderRepository {
	if cfg.Infra.MySQL.DSN == "" {
		logger.L().Warn().Msg("MYSQL_DSN not set, using in-memory order repository")
		repo := infrastructure.NewMemoryOrderRepository()
		seedDemoOrder(repo)
		return repo
	}

	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect to mysql")
	}
	repo := infrastructure.NewGormOrderRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.L().Fatal().Err(err).Msg("failed to migrate order schema")
	}
	return repo
}

func buildGateway(cfg *bootstrap.Config) port.PaymentGateway {
	if cfg.Gateway.Mock {
		logger.L().Warn().Msg("gateway mock mode enabled, no live payments will be placed")
		return adapter.NewMockGatewayAdapter()
	}
	client := httpclient.NewClient(otel.Tracer(serviceName))
	return adapter.NewMonetHTTPAdapter(client, adapter.MonetConfig{
		APIBase:    cfg.Gateway.APIBase,
		WidgetBase: cfg.Gateway.WidgetBase,
		ServiceKey: cfg.Gateway.ServiceKey,
		NotifyURL:  cfg.Gateway.NotifyURL,
		Locale:     cfg.Gateway.Locale,
		Timeout:    cfg.Gateway.Timeout,
	})
}

func buildProducer(cfg *bootstrap.Config) port.PaymentEventProducer {
	if len(cfg.Infra.Kafka.Brokers) == 0 {
		logger.L().Warn().Msg("KAFKA_BROKERS not set, payment events will not be published")
		return adapter.NopPaymentEventProducer{}
	}
	return adapter.NewPaymentEventKafkaAdapter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.Topic)
}

func buildThrottle(cfg *bootstrap.Config) port.ReconcileThrottle {
	if cfg.Infra.Redis.Addr == "" {
		return adapter.NopReconcileThrottle{}
	}
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		logger.L().Warn().Err(err).Msg("redis unavailable, reconcile throttling disabled")
		return adapter.NopReconcileThrottle{}
	}
	throttle, err := adapter.NewReconcileThrottleRedisAdapter(redisClient, 0)
	if err != nil {
		logger.L().Warn().Err(err).Msg("failed to set up reconcile throttle, disabled")
		return adapter.NopReconcileThrottle{}
	}
	return throttle
}

// seedDemoOrder 在内存仓储里放一个演示订单，方便 mock 模式下手工联调。
func seedDemoOrder(repo domain.OrderRepository) {
	order, err := domain.NewOrder("demo-order-1", 1500, domain.CustomerInfo{
		Name:  "Demo Customer",
		Email: "demo@example.com",
		Phone: "+237670000001",
	})
	if err != nil {
		return
	}
	if err := repo.Create(context.Background(), order); err == nil {
		logger.L().Info().Str("order_id", order.ID).Msg("seeded demo order")
	}
}
