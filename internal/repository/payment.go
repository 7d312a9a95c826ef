package repository

import (
	"context"
	"time"

	"brenda-cereals/internal/model"

	"gorm.io/gorm"
)

type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error
	FindByID(ctx context.Context, paymentID string) (*model.Payment, error)
	FindByCheckoutRequestID(ctx context.Context, tx *gorm.DB, checkoutRequestID string) (*model.Payment, error)
	LatestForOrder(ctx context.Context, orderID string) (*model.Payment, error)
	PendingForOrder(ctx context.Context, orderID string, method model.PaymentProviderMethod) (*model.Payment, error)
	ListPending(ctx context.Context, methods []model.PaymentProviderMethod) ([]*model.Payment, error)
	FailPending(ctx context.Context, tx *gorm.DB, orderID, reason string) (int64, error)
	Complete(ctx context.Context, tx *gorm.DB, paymentID string, fields map[string]interface{}) error
	Fail(ctx context.Context, tx *gorm.DB, paymentID, reason string) error
	ReferenceClaimed(ctx context.Context, tx *gorm.DB, payment *model.Payment, ref string) (bool, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepoImpl) FindByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("id = ?", paymentID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) FindByCheckoutRequestID(ctx context.Context, tx *gorm.DB, checkoutRequestID string) (*model.Payment, error) {
	if tx == nil {
		tx = r.db
	}

	var payment model.Payment
	err := tx.WithContext(ctx).
		Where("mpesa_checkout_request_id = ?", checkoutRequestID).
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) LatestForOrder(ctx context.Context, orderID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) PendingForOrder(ctx context.Context, orderID string, method model.PaymentProviderMethod) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND method = ? AND status = ?", orderID, method, model.PaymentStatusPending).
		Order("created_at DESC").
		First(&payment).Error

	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepoImpl) ListPending(ctx context.Context, methods []model.PaymentProviderMethod) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND method IN ?", model.PaymentStatusPending, methods).
		Find(&payments).Error

	if err != nil {
		return nil, err
	}

	return payments, nil
}

// FailPending closes every open attempt on the order; it returns how many were closed.
func (r *paymentRepoImpl) FailPending(ctx context.Context, tx *gorm.DB, orderID, reason string) (int64, error) {
	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("order_id = ? AND status = ?", orderID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         model.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})

	return result.RowsAffected, result.Error
}

// Complete moves a PENDING payment to COMPLETED. ErrStaleState means another writer got there first.
func (r *paymentRepoImpl) Complete(ctx context.Context, tx *gorm.DB, paymentID string, fields map[string]interface{}) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       model.PaymentStatusCompleted,
		"confirmed_at": now,
		"updated_at":   now,
	}
	for k, v := range fields {
		updates[k] = v
	}

	return r.transition(ctx, tx, paymentID, updates)
}

func (r *paymentRepoImpl) Fail(ctx context.Context, tx *gorm.DB, paymentID, reason string) error {
	return r.transition(ctx, tx, paymentID, map[string]interface{}{
		"status":         model.PaymentStatusFailed,
		"failure_reason": reason,
		"updated_at":     time.Now(),
	})
}

// referenceColumns maps a rail to the column holding the receipt or transaction that settled it.
var referenceColumns = map[model.PaymentProviderMethod]string{
	model.ProviderMpesa:     "mpesa_code",
	model.ProviderPaybill:   "mpesa_code",
	model.ProviderBitcoin:   "bitcoin_tx_hash",
	model.ProviderLightning: "lightning_payment_hash",
}

// ReferenceClaimed reports whether a different completed payment on the same rail family
// already carries ref.
func (r *paymentRepoImpl) ReferenceClaimed(ctx context.Context, tx *gorm.DB, payment *model.Payment, ref string) (bool, error) {
	col, ok := referenceColumns[payment.Method]
	if !ok || ref == "" {
		return false, nil
	}

	var count int64
	err := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id <> ? AND status = ?", payment.ID, model.PaymentStatusCompleted).
		Where(col+" = ?", ref).
		Count(&count).Error

	return count > 0, err
}

func (r *paymentRepoImpl) transition(ctx context.Context, tx *gorm.DB, paymentID string, updates map[string]interface{}) error {
	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
