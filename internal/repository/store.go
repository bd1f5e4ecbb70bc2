package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/models"
)

// ErrNotFound is returned when the requested order or payment does not exist.
var ErrNotFound = errors.New("record not found")

// HandleRef is the provider idempotency key returned by a successful initiation.
type HandleRef struct {
	Method            models.PaymentMethod
	Reference         string
	MerchantRequestID string
}

// Resolution carries the provider verdict persisted with a terminal payment.
type Resolution struct {
	Code        string
	Description string
	Receipt     string
	At          time.Time
}

// Store is the system of record for orders, payments and their audit trail.
type Store interface {
	// CreateOrder inserts the order, its items and its first payment in one transaction.
	CreateOrder(ctx context.Context, order *models.Order, payment *models.Payment) error
	// GetOrderWithPayment loads an order together with its latest payment.
	GetOrderWithPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, *models.Payment, error)
	// GetPaymentByHandle finds a payment by checkout request id or payment intent id.
	GetPaymentByHandle(ctx context.Context, handle string) (*models.Payment, error)
	// AttachHandle stores the provider key on a payment that does not have one yet.
	AttachHandle(ctx context.Context, paymentID uuid.UUID, ref HandleRef) (bool, error)
	// ListStalePayments returns pending payments created before cutoff whose PENDING or
	// PROCESSING order was also created before cutoff. A retried attempt gets a full TTL.
	ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	AppendLog(ctx context.Context, entry *models.PaymentLog) error
	// ListLogs returns the audit trail of an order, newest first.
	ListLogs(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]models.PaymentLog, int64, error)
	// Transaction runs fn in a single store transaction; a non-nil error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the conditional writes that make up the payment state machine.
// Every transition is a compare-and-set: it reports false when a concurrent
// writer already moved the row and leaves the row untouched.
type Tx interface {
	// LockOrder reads the order and holds its row lock until the transaction ends.
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// CompletePayment moves a pending payment to completed and marks the order PAID.
	CompletePayment(ctx context.Context, paymentID, orderID uuid.UUID, res Resolution) (bool, error)
	// FailPayment moves a pending payment to failed and marks the order payment FAILED.
	FailPayment(ctx context.Context, paymentID, orderID uuid.UUID, res Resolution) (bool, error)
	// CancelOrder cancels an order still awaiting payment whose payment is still pending.
	CancelOrder(ctx context.Context, orderID, paymentID uuid.UUID, reason string, at time.Time) (bool, error)
	// ReopenPayment moves a FAILED order payment back to PENDING for a new attempt.
	ReopenPayment(ctx context.Context, orderID uuid.UUID) (bool, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	AppendLog(ctx context.Context, entry *models.PaymentLog) error
}
