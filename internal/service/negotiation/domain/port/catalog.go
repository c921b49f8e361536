package port

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInventoryConflict   = errors.New("product availability version mismatch")
	ErrInsufficientStock   = errors.New("insufficient available quantity")
	ErrProductNotFound     = errors.New("product not found in catalog")
	ErrReservationNotFound = errors.New("reservation not found")
)

// Availability 是外部商品目录对某商品库存的快照
type Availability struct {
	ProductID         string
	Active            bool
	TotalQuantity     int
	AvailableQuantity int
	Version           int64
}

// ReservationStatus 预占记录的生命周期
type ReservationStatus string

const (
	ReservationCommitted ReservationStatus = "committed" // 已扣减库存，等待成交落库
	ReservationSettled   ReservationStatus = "settled"   // 出价已成交，预占转为正式消耗
	ReservationReleased  ReservationStatus = "released"  // 已补偿归还
)

// Reservation 与库存扣减在同一原子操作中写入，
// 因此任何"扣了库存却没有订单"的中间态都可以被对账任务发现。
type Reservation struct {
	ID        string
	BidID     string
	ProductID string
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
}

// ProductCatalog 是商品目录（库存权威）的出站端口。
type ProductCatalog interface {
	GetAvailability(ctx context.Context, productID string) (*Availability, error)

	// TryCommit 原子地比较版本并扣减库存，同时写入预占记录。
	// 返回新版本号；版本不匹配返回 ErrInventoryConflict，库存不足返回 ErrInsufficientStock。
	TryCommit(ctx context.Context, res Reservation, expectedVersion int64) (int64, error)

	// Release 是 TryCommit 的补偿操作，对同一预占幂等
	Release(ctx context.Context, reservationID string) error

	// Settle 将预占标记为已消耗，对同一预占幂等
	Settle(ctx context.Context, reservationID string) error

	// ListCommitted 返回创建时间早于 before、仍处于 committed 的预占
	ListCommitted(ctx context.Context, before time.Time, limit int) ([]Reservation, error)
}
