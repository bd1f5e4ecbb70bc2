package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/repository"
)

// AuditLog reads the append-only payment trail.
type AuditLog struct {
	store  repository.Store
	logger *zap.Logger
}

func NewAuditLog(store repository.Store, logger *zap.Logger) *AuditLog {
	return &AuditLog{store: store, logger: logger}
}

// LogPage is one page of an order's audit trail.
type LogPage struct {
	Logs  []models.PaymentLog
	Total int64
}

// List returns an order's audit trail, newest first. Only the owner or an admin may read it.
func (a *AuditLog) List(ctx context.Context, orderID uuid.UUID, initiator Initiator, limit, offset int) (*LogPage, error) {
	order, _, err := a.store.GetOrderWithPayment(ctx, orderID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, internal("failed to load order", err)
	}
	if order == nil {
		return nil, notFound("order not found")
	}
	if !initiator.CanAccess(order) {
		return nil, forbidden("not allowed to view this order")
	}

	logs, total, err := a.store.ListLogs(ctx, orderID, limit, offset)
	if err != nil {
		return nil, internal("failed to load payment logs", err)
	}
	return &LogPage{Logs: logs, Total: total}, nil
}

// newLog fills the fields every audit row carries.
func newLog(order *models.Order, payment *models.Payment, action models.LogAction, initiator Initiator) *models.PaymentLog {
	entry := &models.PaymentLog{
		OrderID:       order.ID,
		Action:        action,
		InitiatorID:   initiator.UserID,
		InitiatorRole: initiator.Role,
	}
	if payment != nil {
		id := payment.ID
		entry.PaymentID = &id
		entry.Method = payment.Provider()
		entry.PreviousStatus = payment.Status
		entry.NewStatus = payment.Status
	}
	return entry
}

// appendDetached writes a log row outside any transaction; failures are logged only.
func appendDetached(ctx context.Context, store repository.Store, logger *zap.Logger, entry *models.PaymentLog) {
	if err := store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to write payment log",
			zap.String("order_id", entry.OrderID.String()),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}
