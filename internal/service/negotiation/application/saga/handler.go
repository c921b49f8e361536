package saga

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

// Reserver 是 saga 对库存账本的依赖（由 application.InventoryLedger 实现）
type Reserver interface {
	Reserve(ctx context.Context, bidID, productID string, quantity int) (*port.Reservation, error)
	Release(ctx context.Context, reservationID string) error
	Settle(ctx context.Context, reservationID string) error
}

// AcceptContext 在成交 Saga 流程中传递上下文数据。
type AcceptContext struct {
	Ctx    context.Context
	Tracer trace.Tracer
	Now    func() time.Time

	// 第 1 步读取到的快照；Terms 来自 Bid.LiveTerms()，从不使用客户端提交的条款
	Bid             *domain.Bid
	ExpectedVersion int64
	Actor           domain.Party
	Terms           domain.Terms

	Repo     domain.BidRepository
	Ledger   Reserver
	Orders   port.OrderService
	Invoices port.InvoiceService

	// 各步骤的产出
	Reservation *port.Reservation
	OrderID     string
	InvoiceID   string

	// 胜出方的成交记录引用了同一订单/发票时置位，补偿时跳过撤销
	keepOrder   bool
	keepInvoice bool

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 以后进先出的顺序登记补偿函数
func (c *AcceptContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

// TriggerCompensation 执行所有已登记的补偿，执行后清空
func (c *AcceptContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	ev := logger.Ctx(ctx).Info().Int("steps", len(c.compensations))
	if c.Bid != nil {
		ev = ev.Str("bid", c.Bid.ID)
	}
	ev.Msg("Executing compensation functions")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

// adoptWinner 比对胜出方的成交记录，下游若按出价幂等返回了同一单据则保留
func (c *AcceptContext) adoptWinner(winner *domain.Agreement) {
	if winner == nil {
		return
	}
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.keepOrder = c.OrderID != "" && winner.OrderID == c.OrderID
	c.keepInvoice = c.InvoiceID != "" && winner.InvoiceID == c.InvoiceID
}

func (c *AcceptContext) CompensationCount() int {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	return len(c.compensations)
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(acceptCtx *AcceptContext) error
}

// NextHandler 嵌入到具体处理器中，负责串联下一个节点
type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(acceptCtx *AcceptContext) error {
	if h.next != nil {
		return h.next.Handle(acceptCtx)
	}
	return nil
}
