package saga

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

// ReserveInventoryHandler 负责第 2 步：按当前有效条款扣减库存。
type ReserveInventoryHandler struct {
	NextHandler
}

func (h *ReserveInventoryHandler) Handle(acceptCtx *AcceptContext) error {
	ctx, span := acceptCtx.Tracer.Start(acceptCtx.Ctx, "saga.ReserveInventory")
	defer span.End()

	bid := acceptCtx.Bid
	span.SetAttributes(
		attribute.String("product.id", bid.ProductID),
		attribute.Int("quantity", acceptCtx.Terms.Quantity),
	)

	res, err := acceptCtx.Ledger.Reserve(ctx, bid.ID, bid.ProductID, acceptCtx.Terms.Quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Inventory reservation failed")
		switch {
		case errors.Is(err, port.ErrInsufficientStock):
			return fmt.Errorf("%w: product %s, requested %d", domain.ErrOutOfStock, bid.ProductID, acceptCtx.Terms.Quantity)
		case errors.Is(err, port.ErrInventoryConflict):
			return fmt.Errorf("%w: inventory for product %s is contended", domain.ErrConflict, bid.ProductID)
		default:
			return err
		}
	}
	acceptCtx.Reservation = res

	// 扣减成功后立刻登记补偿：后续任一步失败都要把库存还回去
	acceptCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := acceptCtx.Tracer.Start(compCtx, "saga.compensation.ReleaseInventory")
		defer compSpan.End()
		compSpan.SetAttributes(attribute.String("reservation.id", res.ID))

		// 补偿失败由对账任务兜底，这里只记录
		if err := acceptCtx.Ledger.Release(compCtx, res.ID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Bool("critical", true).
				Str("reservation", res.ID).Str("bid", bid.ID).
				Msg("Failed to release inventory, reconciler will retry")
		}
	})

	span.AddEvent("Inventory committed")
	return h.executeNext(acceptCtx)
}
