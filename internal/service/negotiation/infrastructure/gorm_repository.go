package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"bidhub/internal/service/negotiation/domain"
)

// GormBidRepository 是 domain.BidRepository 的 GORM 实现
type GormBidRepository struct {
	db *gorm.DB
}

func NewGormBidRepository(db *gorm.DB) *GormBidRepository {
	return &GormBidRepository{db: db}
}

func (r *GormBidRepository) Create(ctx context.Context, bid *domain.Bid) error {
	model := FromDomainBid(bid)
	model.Version = 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if entries := toCounterModels(bid.ID, 0, bid.CounterHistory); len(entries) > 0 {
			return tx.Create(&entries).Error
		}
		return nil
	})
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "insert bid")
	}
	bid.Version = 1
	return nil
}

func (r *GormBidRepository) FindByID(ctx context.Context, id string) (*domain.Bid, error) {
	var model BidModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBidNotFound
		}
		return nil, errors.Wrap(err, "query bid")
	}

	var entries []CounterEntryModel
	if err := r.db.WithContext(ctx).Where("bid_id = ?", id).Order("seq").Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "query counter entries")
	}
	return ToDomainBid(&model, entries)
}

// Update 在一个事务中完成版本号 CAS 和还价记录追加。
// 版本不匹配时 UPDATE 影响 0 行，整个事务回滚。
func (r *GormBidRepository) Update(ctx context.Context, bid *domain.Bid, expectedVersion int64) error {
	cols := stateColumns(bid)
	cols["version"] = gorm.Expr("version + 1")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BidModel{}).
			Where("id = ? AND version = ?", bid.ID, expectedVersion).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&BidModel{}).Where("id = ?", bid.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return domain.ErrBidNotFound
			}
			return domain.ErrConflict
		}

		var persisted int64
		if err := tx.Model(&CounterEntryModel{}).Where("bid_id = ?", bid.ID).Count(&persisted).Error; err != nil {
			return err
		}
		if int(persisted) < len(bid.CounterHistory) {
			entries := toCounterModels(bid.ID, int(persisted), bid.CounterHistory[persisted:])
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrBidNotFound) {
			return err
		}
		if isDuplicateKey(err) {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "update bid")
	}
	bid.Version = expectedVersion + 1
	return nil
}

func (r *GormBidRepository) ListByBuyer(ctx context.Context, buyerID string, status domain.Status) ([]*domain.Bid, error) {
	q := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	return r.list(ctx, q.Order("created_at DESC"))
}

func (r *GormBidRepository) ListByVendor(ctx context.Context, vendorID string, status domain.Status) ([]*domain.Bid, error) {
	q := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	return r.list(ctx, q.Order("created_at DESC"))
}

func (r *GormBidRepository) ListPendingByProduct(ctx context.Context, productID string) ([]*domain.Bid, error) {
	q := r.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, string(domain.StatusPending)).
		Order("created_at")
	return r.list(ctx, q)
}

func (r *GormBidRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Bid, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND valid_until <= ?", string(domain.StatusPending), now).
		Order("valid_until").
		Limit(limit)
	return r.list(ctx, q)
}

// list 先查出价，再用一次 IN 查询批量加载还价记录
func (r *GormBidRepository) list(ctx context.Context, q *gorm.DB) ([]*domain.Bid, error) {
	var models []BidModel
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list bids")
	}
	if len(models) == 0 {
		return []*domain.Bid{}, nil
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var entries []CounterEntryModel
	if err := r.db.WithContext(ctx).Where("bid_id IN ?", ids).Order("bid_id, seq").Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "list counter entries")
	}
	byBid := make(map[string][]CounterEntryModel, len(models))
	for _, e := range entries {
		byBid[e.BidID] = append(byBid[e.BidID], e)
	}

	out := make([]*domain.Bid, 0, len(models))
	for i := range models {
		b, err := ToDomainBid(&models[i], byBid[models[i].ID])
		if err != nil {
			return nil, errors.Wrapf(err, "restore bid %s", models[i].ID)
		}
		out = append(out, b)
	}
	return out, nil
}
