// cmd/push-gateway/main.go
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"bidhub/internal/pkg/bootstrap"
	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/mq"
	"bidhub/internal/pkg/tracing"
	"bidhub/internal/service/push"
)

const serviceName = "push-gateway"

func main() {
	defaults := bootstrap.DefaultConfig()
	defaults.ServiceName = serviceName
	defaults.HTTPPort = 8088
	cfg, err := bootstrap.LoadWithDefaults(os.Getenv("CONFIG_FILE"), defaults)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.ServiceName, cfg.LogLevel)

	tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	brokers := mq.ParseBrokers(cfg.Infra.Kafka.Brokers)
	if len(brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required for the push gateway")
	}

	nodeID := serviceName + "-" + uuid.New().String()[:8]
	hub := push.NewHub(nodeID)
	reader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.BidEventsTopic, cfg.Infra.Kafka.ConsumerGroup)
	consumer := push.NewBidEventConsumerAdapter(reader, hub, otel.Tracer(serviceName))
	ws := push.NewWSHandler(hub)

	err = bootstrap.StartService(context.Background(), bootstrap.AppInfo{
		ServiceName:      cfg.ServiceName,
		Port:             cfg.HTTPPort,
		RegisterHandlers: ws.RegisterRoutes,
		Workers:          []bootstrap.Worker{hub.Run, consumer.Start},
		Cleanup: []func(ctx context.Context) error{
			tp.Shutdown,
			func(context.Context) error { return consumer.Stop() },
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("push gateway exited with error")
	}
}
