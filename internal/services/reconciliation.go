package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/provider"
	"github.com/example/storefront/internal/repository"
)

// Outcome is what a verification reports back to its caller.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// Reasons qualify a pending or failed outcome.
const (
	ReasonProcessing          = "processing"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonProviderRejected    = "provider_rejected"
	ReasonNotStarted          = "not_started"
	ReasonAlreadyResolved     = "already_resolved"
	ReasonConflict            = "conflict"
)

// Trigger names the caller of a verification.
type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerPoll
)

func (t Trigger) action() models.LogAction {
	if t == TriggerPoll {
		return models.ActionPollVerification
	}
	return models.ActionManualVerification
}

// Verification is the typed result of one verify call.
type Verification struct {
	Outcome Outcome
	Reason  string
	Message string
	Order   *models.Order
	Payment *models.Payment
	// Transitioned is true when this call committed the payment transition.
	Transitioned bool
}

// ReconciliationService resolves pending payments against their provider.
type ReconciliationService struct {
	store           repository.Store
	providers       provider.Registry
	logger          *zap.Logger
	notifications   *dispatcher
	providerTimeout time.Duration
	now             func() time.Time
}

func NewReconciliationService(
	store repository.Store,
	providers provider.Registry,
	notifier notify.Notifier,
	logger *zap.Logger,
	providerTimeout time.Duration,
) *ReconciliationService {
	return &ReconciliationService{
		store:           store,
		providers:       providers,
		logger:          logger,
		notifications:   newDispatcher(notifier, logger),
		providerTimeout: providerTimeout,
		now:             time.Now,
	}
}

// VerifyByHandle verifies the order owning the payment with the given provider key.
func (s *ReconciliationService) VerifyByHandle(ctx context.Context, handle string, initiator Initiator, trigger Trigger) (*Verification, error) {
	if handle == "" {
		return nil, invalidRequest("handle is required")
	}
	payment, err := s.store.GetPaymentByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("payment not found")
		}
		return nil, internal("failed to load payment", err)
	}
	order, _, err := s.store.GetOrderWithPayment(ctx, payment.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("order not found")
		}
		return nil, internal("failed to load order", err)
	}
	// Answer about the addressed payment even when a retry has superseded it.
	return s.verify(ctx, order, payment, initiator, trigger)
}

// Verify asks the provider for the status of an order's payment and applies the
// verdict. Every call past the authorization check writes exactly one audit row.
// Concurrent calls are safe: the payment transition is a conditional update and a
// caller that loses the race reports the state the winner committed.
func (s *ReconciliationService) Verify(ctx context.Context, orderID uuid.UUID, initiator Initiator, trigger Trigger) (*Verification, error) {
	order, payment, err := s.store.GetOrderWithPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("no payment found for this order")
		}
		return nil, internal("failed to load order", err)
	}
	return s.verify(ctx, order, payment, initiator, trigger)
}

func (s *ReconciliationService) verify(ctx context.Context, order *models.Order, payment *models.Payment, initiator Initiator, trigger Trigger) (*Verification, error) {
	if !initiator.CanAccess(order) {
		return nil, forbidden("not allowed to verify this order")
	}

	entry := newLog(order, payment, models.ActionVerificationRequested, initiator)
	log := s.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("initiator", initiator.UserID),
	)

	if payment.Status.Terminal() {
		entry.Status = logStatusFor(payment.Status)
		entry.SetDetails(map[string]any{
			"cached":      true,
			"result_code": payment.ResultCode,
			"result_desc": payment.ResultDesc,
			"receipt":     payment.ProviderReceipt,
		})
		appendDetached(ctx, s.store, s.logger, entry)
		return &Verification{
			Outcome: outcomeFor(payment.Status),
			Reason:  ReasonAlreadyResolved,
			Message: messageFor(payment.Status),
			Order:   order,
			Payment: payment,
		}, nil
	}

	handle := payment.Handle()
	if handle == "" {
		entry.Status = models.LogStatusPending
		entry.ErrorMessage = "payment has no provider reference"
		appendDetached(ctx, s.store, s.logger, entry)
		return &Verification{
			Outcome: OutcomePending,
			Reason:  ReasonNotStarted,
			Message: "payment was not accepted by the provider, retry the payment",
			Order:   order,
			Payment: payment,
		}, nil
	}

	adapter, ok := s.providers.Get(payment.Provider())
	if !ok {
		entry.Status = models.LogStatusFailed
		entry.ErrorMessage = "no adapter for " + string(payment.Provider())
		appendDetached(ctx, s.store, s.logger, entry)
		return nil, internal("payment provider is not configured", nil)
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	res, err := adapter.QueryStatus(pctx, handle)
	cancel()

	if err != nil {
		entry.Status = models.LogStatusFailed
		entry.ErrorMessage = err.Error()
		if provider.IsPermanent(err) {
			entry.SetDetails(map[string]any{"permanent": true})
			appendDetached(ctx, s.store, s.logger, entry)
			log.Warn("provider rejected status query", zap.Error(err))
			return &Verification{
				Outcome: OutcomeFailed,
				Reason:  ReasonProviderRejected,
				Message: "payment provider rejected the status request",
				Order:   order,
				Payment: payment,
			}, nil
		}
		entry.SetDetails(map[string]any{"transient": true})
		appendDetached(ctx, s.store, s.logger, entry)
		log.Warn("provider status query failed", zap.Error(err))
		return &Verification{
			Outcome: OutcomePending,
			Reason:  ReasonProviderUnavailable,
			Message: "could not reach the payment provider, check again shortly",
			Order:   order,
			Payment: payment,
		}, nil
	}

	details := map[string]any{
		"provider_outcome": res.Outcome.String(),
		"result_code":      res.Code,
		"result_desc":      res.Description,
	}

	if res.Outcome == provider.OutcomeProcessing {
		entry.Status = models.LogStatusPending
		entry.SetDetails(details)
		appendDetached(ctx, s.store, s.logger, entry)
		return &Verification{
			Outcome: OutcomePending,
			Reason:  ReasonProcessing,
			Message: "still processing, check again shortly",
			Order:   order,
			Payment: payment,
		}, nil
	}

	return s.apply(ctx, order, payment, res, entry, details, trigger, log)
}

// apply commits a success or failure verdict together with its audit row.
func (s *ReconciliationService) apply(
	ctx context.Context,
	order *models.Order,
	payment *models.Payment,
	res *provider.StatusResult,
	entry *models.PaymentLog,
	details map[string]any,
	trigger Trigger,
	log *zap.Logger,
) (*Verification, error) {
	succeeded := res.Outcome == provider.OutcomeSucceeded
	target := models.PaymentStatusFailed
	entry.Status = models.LogStatusFailed
	if succeeded {
		target = models.PaymentStatusCompleted
		entry.Status = models.LogStatusSuccess
		details["receipt"] = res.Receipt
	} else {
		entry.ErrorMessage = res.Description
	}

	resolution := repository.Resolution{
		Code:        res.Code,
		Description: res.Description,
		Receipt:     res.Receipt,
		At:          s.now(),
	}

	var (
		committed      bool
		requiresRefund bool
	)
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}

		if succeeded {
			committed, err = tx.CompletePayment(ctx, payment.ID, order.ID, resolution)
		} else {
			committed, err = tx.FailPayment(ctx, payment.ID, order.ID, resolution)
		}
		if err != nil {
			return err
		}

		if committed {
			entry.Action = trigger.action()
			entry.NewStatus = target
			if succeeded && locked.OrderStatus == models.OrderStatusCancelled {
				requiresRefund = true
				details["requires_refund"] = true
			}
		} else {
			details["conflict"] = true
		}
		entry.SetDetails(details)
		return tx.AppendLog(ctx, entry)
	})
	if err != nil {
		log.Error("payment transition failed", zap.Error(err))
		failed := newLog(order, payment, models.ActionVerificationRequested, Initiator{
			UserID: entry.InitiatorID,
			Role:   entry.InitiatorRole,
		})
		failed.Status = models.LogStatusFailed
		failed.ErrorMessage = "transition not committed: " + err.Error()
		failed.SetDetails(details)
		appendDetached(ctx, s.store, s.logger, failed)
		return nil, internal("failed to record payment result", err)
	}

	current, currentPayment := s.reload(ctx, order, payment)

	if committed {
		log.Info("payment resolved",
			zap.String("status", string(target)),
			zap.String("result_code", res.Code),
			zap.Bool("requires_refund", requiresRefund),
		)
		if succeeded {
			s.notifications.paymentConfirmed(*current, *currentPayment)
		}
	} else {
		log.Info("payment already resolved by a concurrent caller",
			zap.String("status", string(currentPayment.Status)))
	}

	v := &Verification{
		Outcome:      outcomeFor(currentPayment.Status),
		Message:      messageFor(currentPayment.Status),
		Order:        current,
		Payment:      currentPayment,
		Transitioned: committed,
	}
	if !committed {
		v.Reason = ReasonConflict
	}
	if requiresRefund {
		v.Message = "payment received after the order was cancelled, a refund will be issued"
	}
	return v, nil
}

// reload returns the committed state, falling back to the in-memory copies.
func (s *ReconciliationService) reload(ctx context.Context, order *models.Order, payment *models.Payment) (*models.Order, *models.Payment) {
	current, latest, err := s.store.GetOrderWithPayment(ctx, order.ID)
	if err != nil || latest.ID != payment.ID {
		if err != nil {
			s.logger.Warn("reload after transition failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		}
		if current == nil {
			return order, payment
		}
		return current, payment
	}
	return current, latest
}

// Wait blocks until background notifications have been delivered.
func (s *ReconciliationService) Wait() { s.notifications.wait() }

func outcomeFor(status models.PaymentStatus) Outcome {
	switch status {
	case models.PaymentStatusCompleted:
		return OutcomeSuccess
	case models.PaymentStatusFailed:
		return OutcomeFailed
	}
	return OutcomePending
}

func logStatusFor(status models.PaymentStatus) models.LogStatus {
	switch status {
	case models.PaymentStatusCompleted:
		return models.LogStatusSuccess
	case models.PaymentStatusFailed:
		return models.LogStatusFailed
	}
	return models.LogStatusPending
}

func messageFor(status models.PaymentStatus) string {
	switch status {
	case models.PaymentStatusCompleted:
		return "payment confirmed"
	case models.PaymentStatusFailed:
		return "payment failed"
	}
	return "still processing, check again shortly"
}
