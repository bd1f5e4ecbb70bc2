package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/storefront/internal/models"
)

// cancellableStatuses are the order statuses the sweeper may cancel. The stale
// listing and CancelOrder must agree on them.
var cancellableStatuses = []models.OrderStatus{models.OrderStatusPending, models.OrderStatusProcessing}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by gorm.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateOrder(ctx context.Context, order *models.Order, payment *models.Payment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		payment.OrderID = order.ID
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetOrderWithPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, *models.Payment, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").
		First(&order, "id = ?", orderID).Error; err != nil {
		return nil, nil, translate(err)
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at desc").
		First(&payment).Error; err != nil {
		return &order, nil, translate(err)
	}
	return &order, &payment, nil
}

func (s *gormStore) GetPaymentByHandle(ctx context.Context, handle string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).
		Where("checkout_request_id = ? OR payment_intent_id = ?", handle, handle).
		First(&payment).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (s *gormStore) AttachHandle(ctx context.Context, paymentID uuid.UUID, ref HandleRef) (bool, error) {
	updates := map[string]any{}
	switch ref.Method {
	case models.PaymentMethodMpesa:
		updates["checkout_request_id"] = ref.Reference
		if ref.MerchantRequestID != "" {
			updates["merchant_request_id"] = ref.MerchantRequestID
		}
	case models.PaymentMethodStripe:
		updates["payment_intent_id"] = ref.Reference
	default:
		return false, fmt.Errorf("attach handle: unknown method %q", ref.Method)
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ? AND checkout_request_id IS NULL AND payment_intent_id IS NULL",
			paymentID, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("payments.status = ? AND orders.created_at < ? AND orders.order_status IN ? AND orders.payment_status = ?",
			models.PaymentStatusPending, cutoff, cancellableStatuses, models.OrderPaymentPending).
		Where("payments.created_at < ?", cutoff).
		Order("orders.created_at asc").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (s *gormStore) AppendLog(ctx context.Context, entry *models.PaymentLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *gormStore) ListLogs(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]models.PaymentLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.PaymentLog{}).Where("order_id = ?", orderID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.PaymentLog
	if err := query.
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", orderID).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (t *gormTx) CompletePayment(ctx context.Context, paymentID, orderID uuid.UUID, res Resolution) (bool, error) {
	applied, err := t.resolvePayment(ctx, paymentID, models.PaymentStatusCompleted, res)
	if err != nil || !applied {
		return applied, err
	}

	err = t.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, models.OrderPaymentPending).
		Updates(map[string]any{
			"payment_status": models.OrderPaymentPaid,
			"order_status": gorm.Expr("CASE WHEN order_status = ? THEN ? ELSE order_status END",
				models.OrderStatusPending, models.OrderStatusProcessing),
			"paid_at": res.At,
		}).Error
	return true, err
}

func (t *gormTx) FailPayment(ctx context.Context, paymentID, orderID uuid.UUID, res Resolution) (bool, error) {
	applied, err := t.resolvePayment(ctx, paymentID, models.PaymentStatusFailed, res)
	if err != nil || !applied {
		return applied, err
	}

	err = t.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, models.OrderPaymentPending).
		Update("payment_status", models.OrderPaymentFailed).Error
	return true, err
}

func (t *gormTx) resolvePayment(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus, res Resolution) (bool, error) {
	result := t.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Updates(map[string]any{
			"status":           status,
			"result_code":      res.Code,
			"result_desc":      res.Description,
			"provider_receipt": res.Receipt,
			"resolved_at":      res.At,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (t *gormTx) CancelOrder(ctx context.Context, orderID, paymentID uuid.UUID, reason string, at time.Time) (bool, error) {
	result := t.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND order_status IN ? AND payment_status = ?",
			orderID, cancellableStatuses, models.OrderPaymentPending).
		Where("EXISTS (SELECT 1 FROM payments WHERE payments.id = ? AND payments.status = ?)",
			paymentID, models.PaymentStatusPending).
		Updates(map[string]any{
			"order_status":        models.OrderStatusCancelled,
			"cancelled_at":        at,
			"cancellation_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (t *gormTx) ReopenPayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	result := t.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ? AND order_status <> ?",
			orderID, models.OrderPaymentFailed, models.OrderStatusCancelled).
		Update("payment_status", models.OrderPaymentPending)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (t *gormTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return t.db.WithContext(ctx).Create(payment).Error
}

func (t *gormTx) AppendLog(ctx context.Context, entry *models.PaymentLog) error {
	return t.db.WithContext(ctx).Create(entry).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
