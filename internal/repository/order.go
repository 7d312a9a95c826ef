package repository

import (
	"context"
	"errors"
	"time"

	"brenda-cereals/internal/model"

	"gorm.io/gorm"
)

// ErrStaleState is returned when a conditional update matched no row because another writer
// moved the record first.
var ErrStaleState = errors.New("record state changed concurrently")

// ErrOrderClosed is returned when money arrives for an order that was cancelled or refunded.
var ErrOrderClosed = errors.New("order is cancelled or refunded")

var closedStatuses = []model.OrderStatus{model.OrderStatusCancelled, model.OrderStatusRefunded}

type OrderFilter struct {
	Status string
	Search string
	Page   int
	Limit  int
}

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	FindByID(ctx context.Context, orderID string) (*model.Order, error)
	FindForUser(ctx context.Context, orderID, userID string) (*model.Order, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, orderID string, from, to model.OrderStatus) error
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID string) error
	ResetPaymentStatus(ctx context.Context, tx *gorm.DB, orderID string) error
	Refund(ctx context.Context, tx *gorm.DB, orderID string, from model.OrderStatus, notes string) error
	AddNotes(ctx context.Context, orderID, notes string) error
	IsPaid(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

// statusTimestamps maps a target status to the column recording when it was reached.
var statusTimestamps = map[model.OrderStatus]string{
	model.OrderStatusConfirmed: "confirmed_at",
	model.OrderStatusPaid:      "paid_at",
	model.OrderStatusShipped:   "shipped_at",
	model.OrderStatusDelivered: "delivered_at",
	model.OrderStatusCancelled: "cancelled_at",
	model.OrderStatusRefunded:  "refunded_at",
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Omit("Items", "Payments").Create(order).Error
}

func (r *orderRepoImpl) CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindForUser(ctx context.Context, orderID, userID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) ListForUser(ctx context.Context, userID string) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{})

	if filter.Status != "" && filter.Status != "ALL" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where(
			"id LIKE ? OR email LIKE ? OR delivery_address LIKE ? OR delivery_location_name LIKE ?",
			like, like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []*model.Order
	err := query.
		Preload("Items").
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Order("created_at DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *orderRepoImpl) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID string, from, to model.OrderStatus) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if col, ok := statusTimestamps[to]; ok {
		updates[col] = now
	}

	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *orderRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		result := tx.Model(&model.Order{}).
			Where("id = ? AND payment_status <> ? AND status NOT IN ?", orderID, model.OrderPaymentPaid, closedStatuses).
			Updates(map[string]interface{}{
				"payment_status": model.OrderPaymentPaid,
				"paid_at":        now,
				"updated_at":     now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var current model.Order
			if err := tx.Select("status").Where("id = ?", orderID).First(&current).Error; err != nil {
				return err
			}
			if current.Status == model.OrderStatusCancelled || current.Status == model.OrderStatusRefunded {
				return ErrOrderClosed
			}
			return ErrStaleState
		}

		// fulfilment statuses stay where admins put them
		err := tx.Model(&model.Order{}).
			Where(`
				id = ?
				AND status IN ?
			`,
				orderID,
				[]model.OrderStatus{model.OrderStatusPending, model.OrderStatusConfirmed},
			).
			Update("status", model.OrderStatusPaid).Error
		if err != nil {
			return err
		}

		// Fetch the updated record within the same transaction
		return tx.Where("id = ?", orderID).First(&order).Error
	})

	return &order, err
}

func (r *orderRepoImpl) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID string) error {
	return tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status = ?", orderID, model.OrderPaymentPending).
		Updates(map[string]interface{}{
			"payment_status": model.OrderPaymentFailed,
			"updated_at":     time.Now(),
		}).Error
}

func (r *orderRepoImpl) ResetPaymentStatus(ctx context.Context, tx *gorm.DB, orderID string) error {
	return tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status = ?", orderID, model.OrderPaymentFailed).
		Updates(map[string]interface{}{
			"payment_status": model.OrderPaymentPending,
			"updated_at":     time.Now(),
		}).Error
}

func (r *orderRepoImpl) Refund(ctx context.Context, tx *gorm.DB, orderID string, from model.OrderStatus, notes string) error {
	now := time.Now()
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ? AND payment_status = ?", orderID, from, model.OrderPaymentPaid).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusRefunded,
			"payment_status": model.OrderPaymentRefunded,
			"refunded_at":    now,
			"admin_notes":    notes,
			"updated_at":     now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *orderRepoImpl) AddNotes(ctx context.Context, orderID, notes string) error {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"admin_notes": notes,
			"updated_at":  time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *orderRepoImpl) IsPaid(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Where("payment_status = ?", model.OrderPaymentPaid).
		Count(&count).Error

	return count > 0, err
}
