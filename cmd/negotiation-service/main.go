// cmd/negotiation-service/main.go
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"bidhub/internal/pkg/bootstrap"
	"bidhub/internal/pkg/httpclient"
	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/metrics"
	"bidhub/internal/pkg/mq"
	"bidhub/internal/pkg/nacos"
	"bidhub/internal/pkg/redis"
	"bidhub/internal/pkg/tracing"
	"bidhub/internal/service/negotiation/application"
	"bidhub/internal/service/negotiation/application/saga"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
	"bidhub/internal/service/negotiation/infrastructure"
	"bidhub/internal/service/negotiation/infrastructure/adapter"
	"bidhub/internal/service/negotiation/infrastructure/memory"
	"bidhub/internal/service/negotiation/interfaces"
	"bidhub/internal/zookeeper"
)

// stockSeeder 由所有商品目录实现提供，用于写入初始库存
type stockSeeder interface {
	PutProduct(ctx context.Context, productID string, total int, active bool) error
}

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.ServiceName, cfg.LogLevel)
	neg := cfg.Negotiation

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	tracer := otel.Tracer(cfg.ServiceName)
	m := metrics.NewNegotiation(prometheus.DefaultRegisterer)

	cleanup := []func(ctx context.Context) error{tp.Shutdown}

	var db *gorm.DB
	if neg.Store == "mysql" || neg.Catalog == "mysql" {
		if db, err = infrastructure.NewMySQL(cfg.Infra.MySQL.DSN); err != nil {
			log.Fatal().Err(err).Msg("failed to connect mysql")
		}
	}

	// 2. 仓储和商品目录
	var repo domain.BidRepository
	if neg.Store == "mysql" {
		repo = infrastructure.NewGormBidRepository(db)
	} else {
		repo = memory.NewBidRepository()
	}

	var catalog port.ProductCatalog
	var seeder stockSeeder
	switch neg.Catalog {
	case "mysql":
		c := infrastructure.NewGormCatalog(db)
		catalog, seeder = c, c
	case "redis":
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis client")
		}
		cleanup = append(cleanup, func(context.Context) error { return redisClient.Close() })
		c, err := adapter.NewCatalogRedisAdapter(redisClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis catalog")
		}
		catalog, seeder = c, c
	default:
		c := memory.NewCatalog()
		catalog, seeder = c, c
	}
	for productID, qty := range neg.SeedStock {
		if err := seeder.PutProduct(context.Background(), productID, qty, true); err != nil {
			log.Warn().Err(err).Str("product", productID).Msg("could not seed product stock")
		}
	}

	// 3. 服务发现与下游服务
	var nacosClient *nacos.Client
	var resolver httpclient.Resolver
	if cfg.Infra.Nacos.ServerAddrs != "" {
		nacosClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		resolver = nacosClient
		cleanup = append(cleanup, func(context.Context) error { nacosClient.Close(); return nil })
	}
	fallback := map[string]string{}
	if cfg.Infra.Services.OrderURL != "" {
		fallback[cfg.Infra.Services.OrderService] = cfg.Infra.Services.OrderURL
	}
	if cfg.Infra.Services.InvoiceURL != "" {
		fallback[cfg.Infra.Services.InvoiceService] = cfg.Infra.Services.InvoiceURL
	}
	httpClient := httpclient.NewClient(tracer, resolver, fallback)
	orders := adapter.NewOrderHTTPAdapter(httpClient, cfg.Infra.Services.OrderService)
	invoices := adapter.NewInvoiceHTTPAdapter(httpClient, cfg.Infra.Services.InvoiceService)

	// 4. 通知与准入规则
	var notifier port.Notifier = adapter.NotificationLogAdapter{}
	if brokers := mq.ParseBrokers(cfg.Infra.Kafka.Brokers); len(brokers) > 0 {
		kafkaNotifier := adapter.NewNotificationKafkaAdapter(mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.BidEventsTopic))
		notifier = kafkaNotifier
		cleanup = append(cleanup, func(context.Context) error { return kafkaNotifier.Close() })
	}

	var policy port.BidPolicy
	if neg.AdmissionRule != "" {
		celPolicy, err := adapter.NewCELPolicyAdapter(neg.AdmissionRule)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid bid admission rule")
		}
		policy = celPolicy
	}

	// 5. 业务组件
	ledger := application.NewInventoryLedger(catalog, neg.LedgerRetries, tracer, m)
	coordinator := saga.NewCoordinator(repo, ledger, orders, invoices, tracer, m, neg.ProcessingTimeout)
	events := application.NewEventDispatcher(notifier, tracer, 0)
	service := application.NewNegotiationService(repo, ledger, coordinator, events, policy, tracer, m, neg.BidValidity)

	// 通知在 HTTP 停止后、Kafka writer 关闭前发完
	cleanup = append(cleanup, func(context.Context) error { events.Wait(); return nil })

	// 6. 后台任务：多副本时通过 zk 租约只让一个实例扫描
	var sweepLease, reconcileLease application.Lease
	if cfg.Infra.Zookeeper.Servers != "" {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		holder := cfg.ServiceName + "-" + uuid.New().String()[:8]
		sl, err := zookeeper.NewLease(zkConn, "expiration-sweeper", holder)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sweeper lease")
		}
		rl, err := zookeeper.NewLease(zkConn, "reservation-reconciler", holder)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create reconciler lease")
		}
		sweepLease, reconcileLease = sl, rl
		cleanup = append(cleanup, func(context.Context) error {
			_ = sl.Release()
			_ = rl.Release()
			zkConn.Close()
			return nil
		})
	}
	sweeper := application.NewExpirationSweeper(repo, events, sweepLease, neg.SweepInterval, neg.SweepBatch, tracer, m)
	reconciler := application.NewReservationReconciler(repo, ledger, reconcileLease, neg.ReconcileInterval, neg.ReconcileGrace, neg.ReconcileBatch, tracer, m)

	handler := interfaces.NewNegotiationHandler(service)

	err = bootstrap.StartService(context.Background(), bootstrap.AppInfo{
		ServiceName:      cfg.ServiceName,
		Port:             cfg.HTTPPort,
		RegisterHandlers: handler.RegisterRoutes,
		Workers:          []bootstrap.Worker{sweeper.Run, reconciler.Run},
		Nacos:            nacosClient,
		Cleanup:          cleanup,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("service exited with error")
	}
}
