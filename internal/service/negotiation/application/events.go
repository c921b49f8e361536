package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/tracing"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

const defaultNotifyTimeout = 5 * time.Second

// EventDispatcher 把状态流转通知异步发给出价双方。
// 发送失败只记日志，不影响已经提交的状态。
type EventDispatcher struct {
	notifier port.Notifier
	tracer   trace.Tracer
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewEventDispatcher(notifier port.Notifier, tracer trace.Tracer, timeout time.Duration) *EventDispatcher {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &EventDispatcher{notifier: notifier, tracer: tracer, timeout: timeout, now: time.Now}
}

// Publish 基于出价当前快照构造事件后立即返回，真正的发送在后台进行
func (d *EventDispatcher) Publish(ctx context.Context, typ domain.EventType, bid *domain.Bid, actor domain.Party) {
	if d == nil || d.notifier == nil {
		return
	}
	ev := domain.NewBidEvent(uuid.New().String(), typ, bid, actor, d.now())
	ev.TraceID = tracing.GetTraceIDFromContext(ctx)
	recipients := []string{bid.BuyerID, bid.VendorID}

	// 脱离请求的取消信号，但保留链路信息
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(bg, d.timeout)
		defer cancel()
		sendCtx, span := d.tracer.Start(sendCtx, "notify."+string(typ), trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()

		for _, partyID := range recipients {
			if err := d.notifier.Notify(sendCtx, partyID, ev); err != nil {
				span.RecordError(err)
				logger.Ctx(sendCtx).Warn().Err(err).Str("bid", ev.BidID).Str("party", partyID).
					Str("event", string(typ)).Msg("Failed to deliver notification")
			}
		}
	}()
}

// Wait 等待所有在途通知结束，用于优雅退出和测试
func (d *EventDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
