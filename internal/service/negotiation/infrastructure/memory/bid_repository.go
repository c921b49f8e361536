// Package memory 提供进程内的仓储和商品目录实现，用于本地开发和测试。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bidhub/internal/service/negotiation/domain"
)

// BidRepository 用互斥锁保护的 map 实现版本号 CAS。
// 读写都做深拷贝，调用方拿到的对象与存储互不影响。
type BidRepository struct {
	mu   sync.RWMutex
	bids map[string]*domain.Bid
}

func NewBidRepository() *BidRepository {
	return &BidRepository{bids: make(map[string]*domain.Bid)}
}

func (r *BidRepository) Create(_ context.Context, bid *domain.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bids[bid.ID]; ok {
		return domain.ErrConflict
	}
	bid.Version = 1
	r.bids[bid.ID] = bid.Clone()
	return nil
}

func (r *BidRepository) FindByID(_ context.Context, id string) (*domain.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bids[id]
	if !ok {
		return nil, domain.ErrBidNotFound
	}
	return b.Clone(), nil
}

func (r *BidRepository) Update(_ context.Context, bid *domain.Bid, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bids[bid.ID]
	if !ok {
		return domain.ErrBidNotFound
	}
	if cur.Version != expectedVersion {
		return domain.ErrConflict
	}
	// 还价记录只能追加：已持久化的前缀必须原样保留
	if !extendsHistory(cur.CounterHistory, bid.CounterHistory) {
		return domain.ErrConflict
	}
	bid.Version = expectedVersion + 1
	r.bids[bid.ID] = bid.Clone()
	return nil
}

func extendsHistory(persisted, next []domain.CounterEntry) bool {
	if len(next) < len(persisted) {
		return false
	}
	for i, e := range persisted {
		n := next[i]
		if e.Actor != n.Actor || e.Amount != n.Amount || e.Quantity != n.Quantity ||
			e.Message != n.Message || !e.CreatedAt.Equal(n.CreatedAt) {
			return false
		}
	}
	return true
}

func (r *BidRepository) ListByBuyer(_ context.Context, buyerID string, status domain.Status) ([]*domain.Bid, error) {
	return r.filter(func(b *domain.Bid) bool {
		return b.BuyerID == buyerID && (status == "" || b.Status() == status)
	}, newestFirst, 0), nil
}

func (r *BidRepository) ListByVendor(_ context.Context, vendorID string, status domain.Status) ([]*domain.Bid, error) {
	return r.filter(func(b *domain.Bid) bool {
		return b.VendorID == vendorID && (status == "" || b.Status() == status)
	}, newestFirst, 0), nil
}

func (r *BidRepository) ListPendingByProduct(_ context.Context, productID string) ([]*domain.Bid, error) {
	return r.filter(func(b *domain.Bid) bool {
		return b.ProductID == productID && b.IsPending()
	}, oldestFirst, 0), nil
}

func (r *BidRepository) ListOverdue(_ context.Context, now time.Time, limit int) ([]*domain.Bid, error) {
	return r.filter(func(b *domain.Bid) bool {
		return b.IsOverdue(now)
	}, func(a, b *domain.Bid) bool { return a.ValidUntil.Before(b.ValidUntil) }, limit), nil
}

func newestFirst(a, b *domain.Bid) bool { return a.CreatedAt.After(b.CreatedAt) }
func oldestFirst(a, b *domain.Bid) bool { return a.CreatedAt.Before(b.CreatedAt) }

func (r *BidRepository) filter(keep func(*domain.Bid) bool, less func(a, b *domain.Bid) bool, limit int) []*domain.Bid {
	r.mu.RLock()
	out := make([]*domain.Bid, 0)
	for _, b := range r.bids {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
