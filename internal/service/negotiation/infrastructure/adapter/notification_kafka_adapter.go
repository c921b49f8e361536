package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"bidhub/internal/pkg/mq"
	"bidhub/internal/service/negotiation/domain"
)

// NotificationKafkaAdapter 实现了 port.Notifier 接口。
// 消息 key 是接收方 ID，推送网关据此路由到对应的 websocket 连接。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

func (a *NotificationKafkaAdapter) Notify(ctx context.Context, partyID string, event *domain.BidEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal bid event: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(partyID), eventBytes)
}

func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
