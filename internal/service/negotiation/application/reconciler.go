// internal/service/negotiation/application/reconciler.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/metrics"
	"bidhub/internal/service/negotiation/domain"
)

// ReservationReconciler 处理进程在成交流程中途崩溃后遗留的预占。
// 超过宽限期仍为 committed 的预占：对应出价已用它成交则结清，否则释放。
// 宽限期必须大于成交流程的超时时间，否则会误伤正在进行的成交。
type ReservationReconciler struct {
	repo     domain.BidRepository
	ledger   *InventoryLedger
	lease    Lease
	interval time.Duration
	grace    time.Duration
	batch    int
	tracer   trace.Tracer
	metrics  *metrics.Negotiation
	now      func() time.Time
}

func NewReservationReconciler(repo domain.BidRepository, ledger *InventoryLedger, lease Lease, interval, grace time.Duration, batch int, tracer trace.Tracer, m *metrics.Negotiation) *ReservationReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &ReservationReconciler{
		repo:     repo,
		ledger:   ledger,
		lease:    lease,
		interval: interval,
		grace:    grace,
		batch:    batch,
		tracer:   tracer,
		metrics:  m,
		now:      time.Now,
	}
}

func (r *ReservationReconciler) WithClock(now func() time.Time) *ReservationReconciler {
	r.now = now
	return r
}

func (r *ReservationReconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := r.ReconcileOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Ctx(ctx).Error().Err(err).Msg("Reservation reconciliation failed")
			}
		}
	}
}

// ReconcileOnce 执行一轮对账，返回结清和释放的数量
func (r *ReservationReconciler) ReconcileOnce(ctx context.Context) (settled, released int, err error) {
	if r.lease != nil {
		ok, err := r.lease.TryAcquire()
		if err != nil || !ok {
			return 0, 0, err
		}
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.ReconcileOnce")
	defer span.End()

	stale, err := r.ledger.Committed(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		span.RecordError(err)
		return 0, 0, err
	}

	for _, res := range stale {
		if err := ctx.Err(); err != nil {
			return settled, released, err
		}
		bid, err := r.repo.FindByID(ctx, res.BidID)
		if err != nil && !errors.Is(err, domain.ErrBidNotFound) {
			logger.Ctx(ctx).Warn().Err(err).Str("reservation", res.ID).Msg("Reconciler failed to load bid")
			continue
		}

		if bid != nil {
			if a := bid.Agreement(); a != nil && a.ReservationID == res.ID {
				if err := r.ledger.Settle(ctx, res.ID); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Str("reservation", res.ID).Msg("Reconciler failed to settle reservation")
					continue
				}
				settled++
				r.metrics.Reconciled("settled")
				continue
			}
		}

		if err := r.ledger.Release(ctx, res.ID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("reservation", res.ID).Msg("Reconciler failed to release reservation")
			continue
		}
		released++
		r.metrics.Reconciled("released")
		logger.Ctx(ctx).Warn().Str("reservation", res.ID).Str("bid", res.BidID).
			Int("quantity", res.Quantity).Msg("Released orphaned reservation")
	}

	span.SetAttributes(attribute.Int("settled", settled), attribute.Int("released", released))
	return settled, released, nil
}
