package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bidhub/internal/service/negotiation/domain/port"
)

// Catalog 是 port.ProductCatalog 的内存实现，语义与 MySQL/Redis 实现一致：
// 版本号 CAS、扣减与预占记录原子完成、Release/Settle 幂等。
type Catalog struct {
	mu           sync.Mutex
	products     map[string]*port.Availability
	reservations map[string]*port.Reservation
}

func NewCatalog() *Catalog {
	return &Catalog{
		products:     make(map[string]*port.Availability),
		reservations: make(map[string]*port.Reservation),
	}
}

// PutProduct 创建或覆盖商品库存
func (c *Catalog) PutProduct(_ context.Context, productID string, total int, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var version int64 = 1
	if cur, ok := c.products[productID]; ok {
		version = cur.Version + 1
	}
	c.products[productID] = &port.Availability{
		ProductID:         productID,
		Active:            active,
		TotalQuantity:     total,
		AvailableQuantity: total,
		Version:           version,
	}
	return nil
}

func (c *Catalog) GetAvailability(_ context.Context, productID string) (*port.Availability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, port.ErrProductNotFound
	}
	snapshot := *p
	return &snapshot, nil
}

func (c *Catalog) TryCommit(_ context.Context, res port.Reservation, expectedVersion int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[res.ProductID]
	if !ok {
		return 0, port.ErrProductNotFound
	}
	if p.Version != expectedVersion {
		return 0, port.ErrInventoryConflict
	}
	if !p.Active || p.AvailableQuantity < res.Quantity {
		return 0, port.ErrInsufficientStock
	}
	p.AvailableQuantity -= res.Quantity
	p.Version++

	res.Status = port.ReservationCommitted
	c.reservations[res.ID] = &res
	return p.Version, nil
}

func (c *Catalog) Release(_ context.Context, reservationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reservations[reservationID]
	if !ok {
		return port.ErrReservationNotFound
	}
	if r.Status != port.ReservationCommitted {
		return nil
	}
	r.Status = port.ReservationReleased
	if p, ok := c.products[r.ProductID]; ok {
		p.AvailableQuantity += r.Quantity
		p.Version++
	}
	return nil
}

func (c *Catalog) Settle(_ context.Context, reservationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reservations[reservationID]
	if !ok {
		return port.ErrReservationNotFound
	}
	if r.Status == port.ReservationCommitted {
		r.Status = port.ReservationSettled
	}
	return nil
}

func (c *Catalog) ListCommitted(_ context.Context, before time.Time, limit int) ([]port.Reservation, error) {
	c.mu.Lock()
	out := make([]port.Reservation, 0)
	for _, r := range c.reservations {
		if r.Status == port.ReservationCommitted && r.CreatedAt.Before(before) {
			out = append(out, *r)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reservation 返回预占记录快照，测试使用
func (c *Catalog) Reservation(id string) (port.Reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reservations[id]
	if !ok {
		return port.Reservation{}, false
	}
	return *r, true
}
