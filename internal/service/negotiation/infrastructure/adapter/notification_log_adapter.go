package adapter

import (
	"context"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/service/negotiation/domain"
)

// NotificationLogAdapter 在未配置 Kafka 时使用，只把事件写进日志
type NotificationLogAdapter struct{}

func (NotificationLogAdapter) Notify(ctx context.Context, partyID string, event *domain.BidEvent) error {
	logger.Ctx(ctx).Info().
		Str("party", partyID).
		Str("event", string(event.Type)).
		Str("bid", event.BidID).
		Str("status", string(event.Status)).
		Msg("Bid notification")
	return nil
}
