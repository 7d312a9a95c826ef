package repository

import (
	"context"
	"time"

	"brenda-cereals/internal/model"

	"gorm.io/gorm"
)

type InventoryRepository interface {
	TakeStock(ctx context.Context, tx *gorm.DB, orderID string) error
}

type inventoryRepoImpl struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepoImpl{
		db: db,
	}
}

// TakeStock removes the order's quantities from product stock, never below zero. A product
// that runs out is marked out of stock; admins' manual out-of-stock flags are kept.
func (r *inventoryRepoImpl) TakeStock(ctx context.Context, tx *gorm.DB, orderID string) error {
	var items []model.OrderItem
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}

	now := time.Now()
	for _, item := range items {
		// both expressions read the pre-update stock: in_stock sorts before stock in the SET list
		err := tx.WithContext(ctx).Model(&model.Product{}).
			Where("id = ?", item.ProductID).
			Updates(map[string]interface{}{
				"in_stock":   gorm.Expr("CASE WHEN stock > ? THEN in_stock ELSE ? END", item.Quantity, false),
				"stock":      gorm.Expr("CASE WHEN stock > ? THEN stock - ? ELSE 0 END", item.Quantity, item.Quantity),
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
