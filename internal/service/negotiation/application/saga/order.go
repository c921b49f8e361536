package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

// CreateOrderHandler 负责第 3 步的前半段：创建订单。
type CreateOrderHandler struct {
	NextHandler
}

func (h *CreateOrderHandler) Handle(acceptCtx *AcceptContext) error {
	ctx, span := acceptCtx.Tracer.Start(acceptCtx.Ctx, "saga.CreateOrder")
	defer span.End()

	bid := acceptCtx.Bid
	orderID, err := acceptCtx.Orders.CreateOrder(ctx, port.OrderRequest{
		IdempotencyKey: acceptCtx.Reservation.ID,
		BidID:          bid.ID,
		BuyerID:        bid.BuyerID,
		VendorID:       bid.VendorID,
		ProductID:      bid.ProductID,
		Quantity:       acceptCtx.Terms.Quantity,
		UnitPrice:      acceptCtx.Terms.Amount,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order creation failed")
		return fmt.Errorf("%w: create order: %v", domain.ErrDownstreamFailure, err)
	}
	acceptCtx.OrderID = orderID
	span.SetAttributes(attribute.String("order.id", orderID))

	acceptCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := acceptCtx.Tracer.Start(compCtx, "saga.compensation.CancelOrder")
		defer compSpan.End()
		if acceptCtx.keepOrder {
			compSpan.AddEvent("Order belongs to the accepted bid, skipped")
			logger.Ctx(compCtx).Warn().Str("order", orderID).Str("bid", bid.ID).Msg("Order shared with winning accept, not cancelled")
			return
		}
		if err := acceptCtx.Orders.CancelOrder(compCtx, orderID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("order", orderID).Str("bid", bid.ID).Msg("Failed to cancel order")
		}
	})

	return h.executeNext(acceptCtx)
}

// CreateInvoiceHandler 负责第 3 步的后半段：开票。
type CreateInvoiceHandler struct {
	NextHandler
}

func (h *CreateInvoiceHandler) Handle(acceptCtx *AcceptContext) error {
	ctx, span := acceptCtx.Tracer.Start(acceptCtx.Ctx, "saga.CreateInvoice")
	defer span.End()

	terms := acceptCtx.Terms
	invoiceID, err := acceptCtx.Invoices.CreateInvoice(ctx, port.InvoiceRequest{
		IdempotencyKey: acceptCtx.Reservation.ID,
		BidID:          acceptCtx.Bid.ID,
		OrderID:        acceptCtx.OrderID,
		UnitPrice:      terms.Amount,
		Quantity:       terms.Quantity,
		Total:          terms.Amount * float64(terms.Quantity),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invoice creation failed")
		return fmt.Errorf("%w: create invoice: %v", domain.ErrDownstreamFailure, err)
	}
	acceptCtx.InvoiceID = invoiceID
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	acceptCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := acceptCtx.Tracer.Start(compCtx, "saga.compensation.VoidInvoice")
		defer compSpan.End()
		if acceptCtx.keepInvoice {
			compSpan.AddEvent("Invoice belongs to the accepted bid, skipped")
			logger.Ctx(compCtx).Warn().Str("invoice", invoiceID).Msg("Invoice shared with winning accept, not voided")
			return
		}
		if err := acceptCtx.Invoices.VoidInvoice(compCtx, invoiceID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("invoice", invoiceID).Msg("Failed to void invoice")
		}
	})

	return h.executeNext(acceptCtx)
}
