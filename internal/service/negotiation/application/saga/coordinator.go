package saga

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/metrics"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

const defaultProcessingTimeout = 10 * time.Second

// Result 是成交成功后的产出
type Result struct {
	Bid       *domain.Bid
	OrderID   string
	InvoiceID string
}

// Coordinator 编排成交流程：预占库存 -> 下单 -> 开票 -> 写入 Accepted。
// 任何一步失败都按后进先出执行已登记的补偿，出价保持 Pending 不变。
type Coordinator struct {
	repo     domain.BidRepository
	ledger   Reserver
	orders   port.OrderService
	invoices port.InvoiceService
	tracer   trace.Tracer
	metrics  *metrics.Negotiation
	timeout  time.Duration
	now      func() time.Time

	onExpired func(ctx context.Context, bid *domain.Bid)
}

func NewCoordinator(
	repo domain.BidRepository,
	ledger Reserver,
	orders port.OrderService,
	invoices port.InvoiceService,
	tracer trace.Tracer,
	m *metrics.Negotiation,
	timeout time.Duration,
) *Coordinator {
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return &Coordinator{
		repo:     repo,
		ledger:   ledger,
		orders:   orders,
		invoices: invoices,
		tracer:   tracer,
		metrics:  m,
		timeout:  timeout,
		now:      time.Now,
	}
}

// OnExpired 注册惰性过期写入成功后的回调，用于发出通知
func (c *Coordinator) OnExpired(fn func(ctx context.Context, bid *domain.Bid)) {
	c.onExpired = fn
}

// WithClock 替换时钟，测试使用
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) Accept(ctx context.Context, bidID, actorID string) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "AcceptanceCoordinator.Accept")
	defer span.End()
	span.SetAttributes(attribute.String("bid.id", bidID))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// 1. 读取出价和当前有效条款，校验状态、有效期和轮次
	bid, err := c.repo.FindByID(ctx, bidID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	actor, err := bid.PartyOf(actorID)
	if err != nil {
		c.metrics.AcceptOutcome("rejected_precondition")
		return nil, err
	}
	now := c.now()
	if bid.IsOverdue(now) {
		c.expire(ctx, bid, now)
		c.metrics.AcceptOutcome("expired")
		return nil, domain.ErrBidExpired
	}
	if err := bid.CanAccept(actor, now); err != nil {
		c.metrics.AcceptOutcome("rejected_precondition")
		return nil, err
	}

	acceptCtx := &AcceptContext{
		Ctx:             ctx,
		Tracer:          c.tracer,
		Now:             c.now,
		Bid:             bid,
		ExpectedVersion: bid.Version,
		Actor:           actor,
		Terms:           bid.LiveTerms(),
		Repo:            c.repo,
		Ledger:          c.ledger,
		Orders:          c.orders,
		Invoices:        c.invoices,
	}

	chain := &ReserveInventoryHandler{}
	chain.SetNext(&CreateOrderHandler{}).
		SetNext(&CreateInvoiceHandler{}).
		SetNext(&FinalizeBidHandler{})

	if err := chain.Handle(acceptCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acceptance saga failed")
		logger.Ctx(ctx).Warn().Err(err).Str("bid", bid.ID).Msg("Acceptance failed, compensating")

		// 调用方取消或超时后补偿仍需执行完
		acceptCtx.TriggerCompensation(context.WithoutCancel(ctx))
		c.metrics.AcceptOutcome(outcomeOf(err))
		return nil, err
	}

	c.metrics.AcceptOutcome("accepted")
	logger.Ctx(ctx).Info().Str("bid", bid.ID).Str("order", acceptCtx.OrderID).Str("invoice", acceptCtx.InvoiceID).Msg("Bid accepted")
	return &Result{Bid: bid, OrderID: acceptCtx.OrderID, InvoiceID: acceptCtx.InvoiceID}, nil
}

func (c *Coordinator) expire(ctx context.Context, bid *domain.Bid, now time.Time) {
	written, err := domain.ExpireOverdue(ctx, c.repo, bid, now)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("bid", bid.ID).Msg("Failed to persist lazy expiry")
		return
	}
	if written && c.onExpired != nil {
		c.onExpired(ctx, bid)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrBidExpired):
		return "expired"
	case errors.Is(err, domain.ErrDownstreamFailure):
		return "downstream_failure"
	default:
		return "error"
	}
}
