package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bidhub/internal/service/negotiation/domain/port"
)

// GormCatalog 是 port.ProductCatalog 的 MySQL 实现。
// 库存扣减和预占记录写入在同一个事务里完成。
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) GetAvailability(ctx context.Context, productID string) (*port.Availability, error) {
	var m ProductAvailabilityModel
	if err := c.db.WithContext(ctx).Where("product_id = ?", productID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, port.ErrProductNotFound
		}
		return nil, errors.Wrap(err, "query availability")
	}
	return toDomainAvailability(&m), nil
}

func (c *GormCatalog) TryCommit(ctx context.Context, res port.Reservation, expectedVersion int64) (int64, error) {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&ProductAvailabilityModel{}).
			Where("product_id = ? AND version = ? AND active = ? AND available_quantity >= ?",
				res.ProductID, expectedVersion, true, res.Quantity).
			Updates(map[string]interface{}{
				"available_quantity": gorm.Expr("available_quantity - ?", res.Quantity),
				"version":            gorm.Expr("version + 1"),
				"updated_at":         time.Now(),
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			// 区分版本冲突和库存不足
			var cur ProductAvailabilityModel
			if err := tx.Where("product_id = ?", res.ProductID).First(&cur).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return port.ErrProductNotFound
				}
				return err
			}
			if cur.Version != expectedVersion {
				return port.ErrInventoryConflict
			}
			return port.ErrInsufficientStock
		}

		return tx.Create(&ReservationModel{
			ID:        res.ID,
			BidID:     res.BidID,
			ProductID: res.ProductID,
			Quantity:  res.Quantity,
			Status:    string(port.ReservationCommitted),
			CreatedAt: res.CreatedAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, port.ErrInventoryConflict) || errors.Is(err, port.ErrInsufficientStock) || errors.Is(err, port.ErrProductNotFound) {
			return 0, err
		}
		return 0, errors.Wrap(err, "commit inventory")
	}
	return expectedVersion + 1, nil
}

// Release 只对 committed 状态的预占生效：状态切换本身就是幂等保护
func (c *GormCatalog) Release(ctx context.Context, reservationID string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r ReservationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", reservationID).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return port.ErrReservationNotFound
			}
			return err
		}
		if r.Status != string(port.ReservationCommitted) {
			return nil
		}
		if err := tx.Model(&ReservationModel{}).Where("id = ?", r.ID).
			Update("status", string(port.ReservationReleased)).Error; err != nil {
			return err
		}
		return tx.Model(&ProductAvailabilityModel{}).Where("product_id = ?", r.ProductID).
			Updates(map[string]interface{}{
				"available_quantity": gorm.Expr("available_quantity + ?", r.Quantity),
				"version":            gorm.Expr("version + 1"),
				"updated_at":         time.Now(),
			}).Error
	})
	if err != nil && !errors.Is(err, port.ErrReservationNotFound) {
		return errors.Wrap(err, "release reservation")
	}
	return err
}

func (c *GormCatalog) Settle(ctx context.Context, reservationID string) error {
	res := c.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("id = ? AND status = ?", reservationID, string(port.ReservationCommitted)).
		Update("status", string(port.ReservationSettled))
	if res.Error != nil {
		return errors.Wrap(res.Error, "settle reservation")
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := c.db.WithContext(ctx).Model(&ReservationModel{}).Where("id = ?", reservationID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "settle reservation")
		}
		if n == 0 {
			return port.ErrReservationNotFound
		}
	}
	return nil
}

func (c *GormCatalog) ListCommitted(ctx context.Context, before time.Time, limit int) ([]port.Reservation, error) {
	var models []ReservationModel
	err := c.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(port.ReservationCommitted), before).
		Order("created_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list committed reservations")
	}
	out := make([]port.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toDomainReservation(&models[i]))
	}
	return out, nil
}

// PutProduct 创建或覆盖商品库存，供运维初始化使用
func (c *GormCatalog) PutProduct(ctx context.Context, productID string, total int, active bool) error {
	m := ProductAvailabilityModel{
		ProductID:         productID,
		Active:            active,
		TotalQuantity:     total,
		AvailableQuantity: total,
		Version:           1,
		UpdatedAt:         time.Now(),
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"active":             active,
			"total_quantity":     total,
			"available_quantity": total,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         m.UpdatedAt,
		}),
	}).Create(&m).Error
	return errors.Wrap(err, "put product")
}
