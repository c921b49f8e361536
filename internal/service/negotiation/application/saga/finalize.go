package saga

import (
	"errors"

	"go.opentelemetry.io/otel/codes"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/service/negotiation/domain"
)

// FinalizeBidHandler 负责第 4 步：以第 1 步读到的版本号写入 Accepted。
// 这次 CAS 与过期清理器的写入竞争，谁先落地谁赢。
type FinalizeBidHandler struct {
	NextHandler
}

func (h *FinalizeBidHandler) Handle(acceptCtx *AcceptContext) error {
	ctx, span := acceptCtx.Tracer.Start(acceptCtx.Ctx, "saga.FinalizeBid")
	defer span.End()

	bid := acceptCtx.Bid
	agreement := domain.Agreement{
		Amount:        acceptCtx.Terms.Amount,
		Quantity:      acceptCtx.Terms.Quantity,
		OrderID:       acceptCtx.OrderID,
		InvoiceID:     acceptCtx.InvoiceID,
		ReservationID: acceptCtx.Reservation.ID,
	}
	if err := bid.Accept(acceptCtx.Actor, agreement, acceptCtx.Now()); err != nil {
		span.RecordError(err)
		return err
	}

	if err := acceptCtx.Repo.Update(ctx, bid, acceptCtx.ExpectedVersion); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist accepted bid")
		if errors.Is(err, domain.ErrConflict) {
			// 重新读取一次，区分是被清理器过期了、被另一次成交抢先，还是普通的并发修改
			if latest, getErr := acceptCtx.Repo.FindByID(ctx, bid.ID); getErr == nil {
				switch latest.Status() {
				case domain.StatusExpired:
					return domain.ErrBidExpired
				case domain.StatusAccepted:
					acceptCtx.adoptWinner(latest.Agreement())
				}
			}
		}
		return err
	}

	// 预占转为正式消耗。失败不影响成交结果，对账任务会根据出价状态补做
	if err := acceptCtx.Ledger.Settle(ctx, acceptCtx.Reservation.ID); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("reservation", acceptCtx.Reservation.ID).Msg("Failed to settle reservation")
	}

	span.AddEvent("Bid accepted and persisted")
	return h.executeNext(acceptCtx)
}
