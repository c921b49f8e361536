package push

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/mq"
)

// MessageReader 是 kafka.Reader 中本适配器用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BidEventConsumerAdapter 消费 bid-events，按消息 key（接收方 ID）推送给在线连接。
// 不在线的接收方直接跳过，推送不保证送达。
type BidEventConsumerAdapter struct {
	reader MessageReader
	hub    *Hub
	tracer trace.Tracer
}

func NewBidEventConsumerAdapter(reader MessageReader, hub *Hub, tracer trace.Tracer) *BidEventConsumerAdapter {
	return &BidEventConsumerAdapter{reader: reader, hub: hub, tracer: tracer}
}

// Start 阻塞消费直到 ctx 取消
func (a *BidEventConsumerAdapter) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("Bid event consumer started")
	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Ctx(ctx).Info().Msg("Bid event consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Warn().Err(err).Msg("Failed to fetch bid event")
			continue
		}

		a.handle(ctx, msg)

		if err := a.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Failed to commit bid event offset")
		}
	}
}

func (a *BidEventConsumerAdapter) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	_, span := a.tracer.Start(msgCtx, "push.DeliverBidEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	partyID := string(msg.Key)
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		attribute.String("party.id", partyID),
	)
	delivered := a.hub.Deliver(partyID, msg.Value)
	span.SetAttributes(attribute.Int("connections", delivered))
}

func (a *BidEventConsumerAdapter) Stop() error {
	return a.reader.Close()
}
