// internal/service/negotiation/domain/repository.go
package domain

import (
	"context"
	"time"
)

// BidRepository 定义了出价聚合的持久化接口。
// 所有写入都是带版本号的比较并交换：调用方提供它最后一次读到的版本，
// 不匹配时返回 ErrConflict，成功后 bid.Version 变为新版本。
type BidRepository interface {
	// Create 插入一个新出价，版本从 1 开始
	Create(ctx context.Context, bid *Bid) error

	// FindByID 读取出价及其完整还价历史
	FindByID(ctx context.Context, id string) (*Bid, error)

	// Update 以 expectedVersion 为条件写回整个聚合，并追加新的还价记录
	Update(ctx context.Context, bid *Bid, expectedVersion int64) error

	// ListByBuyer / ListByVendor 的 status 为空时不过滤
	ListByBuyer(ctx context.Context, buyerID string, status Status) ([]*Bid, error)
	ListByVendor(ctx context.Context, vendorID string, status Status) ([]*Bid, error)

	ListPendingByProduct(ctx context.Context, productID string) ([]*Bid, error)

	// ListOverdue 返回 ValidUntil 已过但仍为 pending 的出价，最多 limit 条
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Bid, error)
}
