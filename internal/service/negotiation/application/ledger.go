// internal/service/negotiation/application/ledger.go
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/metrics"
	"bidhub/internal/service/negotiation/domain/port"
)

const defaultLedgerRetries = 8

// InventoryLedger 是防止超卖的唯一权威。
// 它本身不持有任何锁：每次扣减都是对商品目录的一次带版本号的 CAS，
// 版本冲突时重新读取再试，直到成功、库存不足或用完重试预算。
type InventoryLedger struct {
	catalog    port.ProductCatalog
	maxRetries int
	tracer     trace.Tracer
	metrics    *metrics.Negotiation
	now        func() time.Time
}

func NewInventoryLedger(catalog port.ProductCatalog, maxRetries int, tracer trace.Tracer, m *metrics.Negotiation) *InventoryLedger {
	if maxRetries <= 0 {
		maxRetries = defaultLedgerRetries
	}
	return &InventoryLedger{
		catalog:    catalog,
		maxRetries: maxRetries,
		tracer:     tracer,
		metrics:    m,
		now:        time.Now,
	}
}

// CheckAvailable 只读、仅供参考，用于创建/还价时的早期反馈，不做任何预占
func (l *InventoryLedger) CheckAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	avail, err := l.catalog.GetAvailability(ctx, productID)
	if err != nil {
		if errors.Is(err, port.ErrProductNotFound) {
			return false, nil
		}
		return false, err
	}
	return avail.Active && avail.AvailableQuantity >= quantity, nil
}

// TryCommit 是单次 CAS，直接透传商品目录的结果
func (l *InventoryLedger) TryCommit(ctx context.Context, res port.Reservation, expectedVersion int64) (int64, error) {
	v, err := l.catalog.TryCommit(ctx, res, expectedVersion)
	switch {
	case err == nil:
		l.metrics.CommitAttempt("ok")
	case errors.Is(err, port.ErrInventoryConflict):
		l.metrics.CommitAttempt("conflict")
	case errors.Is(err, port.ErrInsufficientStock):
		l.metrics.CommitAttempt("insufficient")
	default:
		l.metrics.CommitAttempt("error")
	}
	return v, err
}

// Reserve 为某个出价扣减库存并返回预占记录。
// 版本冲突会自动重读重试；库存不足立即返回 port.ErrInsufficientStock；
// 重试预算耗尽返回 port.ErrInventoryConflict，由调用方决定是否重试。
func (l *InventoryLedger) Reserve(ctx context.Context, bidID, productID string, quantity int) (*port.Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("bid.id", bidID),
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)

	res := port.Reservation{
		ID:        uuid.New().String(),
		BidID:     bidID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    port.ReservationCommitted,
	}

	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		avail, err := l.catalog.GetAvailability(ctx, productID)
		if err != nil {
			if errors.Is(err, port.ErrProductNotFound) {
				return nil, port.ErrInsufficientStock
			}
			span.RecordError(err)
			return nil, err
		}
		if !avail.Active || avail.AvailableQuantity < quantity {
			span.SetStatus(codes.Error, "insufficient stock")
			l.metrics.CommitAttempt("insufficient")
			return nil, port.ErrInsufficientStock
		}

		res.CreatedAt = l.now()
		newVersion, err := l.TryCommit(ctx, res, avail.Version)
		if err == nil {
			span.SetAttributes(attribute.Int64("inventory.version", newVersion), attribute.Int("attempts", attempt))
			return &res, nil
		}
		if errors.Is(err, port.ErrInventoryConflict) {
			span.AddEvent("inventory version conflict, retrying")
			continue
		}
		if !errors.Is(err, port.ErrInsufficientStock) {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.Ctx(ctx).Warn().Str("product", productID).Int("retries", l.maxRetries).Msg("Inventory CAS retry budget exhausted")
	span.SetStatus(codes.Error, "retry budget exhausted")
	return nil, port.ErrInventoryConflict
}

// Release 是补偿操作：归还一次预占的库存，重复调用无副作用
func (l *InventoryLedger) Release(ctx context.Context, reservationID string) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	if err := l.catalog.Release(ctx, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return err
	}
	return nil
}

// Settle 把预占转为正式消耗
func (l *InventoryLedger) Settle(ctx context.Context, reservationID string) error {
	return l.catalog.Settle(ctx, reservationID)
}

// Committed 列出早于 before 仍未结清的预占，供对账使用
func (l *InventoryLedger) Committed(ctx context.Context, before time.Time, limit int) ([]port.Reservation, error) {
	return l.catalog.ListCommitted(ctx, before, limit)
}
