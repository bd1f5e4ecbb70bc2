package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/repository"
)

const (
	// CancellationReasonTimeout is stored on orders the sweeper cancels.
	CancellationReasonTimeout = "payment timeout"
	sweepBatchSize            = 200
)

// SweepResult summarises one sweeper pass.
type SweepResult struct {
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Sweeper cancels orders whose payment stayed pending past the TTL. It never calls a
// provider; the timeout policy alone decides.
type Sweeper struct {
	store         repository.Store
	logger        *zap.Logger
	notifications *dispatcher
	now           func() time.Time
}

func NewSweeper(store repository.Store, notifier notify.Notifier, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:         store,
		logger:        logger,
		notifications: newDispatcher(notifier, logger),
		now:           time.Now,
	}
}

// Sweep cancels every order created before now-ttl whose payment is still pending.
// Per-row failures are logged and counted, never returned.
func (s *Sweeper) Sweep(ctx context.Context, ttl time.Duration) (SweepResult, error) {
	var result SweepResult
	now := s.now()
	cutoff := now.Add(-ttl)

	// Cancelled rows drop out of the query, so re-querying advances through the backlog.
	// Skipped and failed rows stay, so the pass stops once a batch makes no progress.
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		stale, err := s.store.ListStalePayments(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return result, internal("failed to list stale payments", err)
		}

		cancelledBefore := result.Cancelled
		for i := range stale {
			s.cancelOne(ctx, &stale[i], now, &result)
		}

		if len(stale) < sweepBatchSize || result.Cancelled == cancelledBefore {
			break
		}
	}

	s.logger.Info("sweep finished",
		zap.Int("cancelled", result.Cancelled),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("ttl", ttl),
	)
	return result, nil
}

func (s *Sweeper) cancelOne(ctx context.Context, payment *models.Payment, now time.Time, result *SweepResult) {
	log := s.logger.With(
		zap.String("order_id", payment.OrderID.String()),
		zap.String("payment_id", payment.ID.String()),
	)

	var (
		cancelled bool
		order     *models.Order
	)
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}

		cancelled, err = tx.CancelOrder(ctx, payment.OrderID, payment.ID, CancellationReasonTimeout, now)
		if err != nil || !cancelled {
			return err
		}

		order = locked
		entry := newLog(locked, payment, models.ActionAutoCancel, System())
		entry.Status = models.LogStatusSuccess
		entry.SetDetails(map[string]any{
			"reason":                CancellationReasonTimeout,
			"previous_order_status": locked.OrderStatus,
			"order_created_at":      locked.CreatedAt,
		})
		return tx.AppendLog(ctx, entry)
	})

	switch {
	case err != nil:
		result.Failed++
		log.Error("auto-cancel failed", zap.Error(err))
	case !cancelled:
		result.Skipped++
		log.Info("auto-cancel skipped, order resolved concurrently")
	default:
		result.Cancelled++
		order.OrderStatus = models.OrderStatusCancelled
		order.CancelledAt = &now
		order.CancellationReason = CancellationReasonTimeout
		log.Info("order auto-cancelled")
		s.notifications.orderCancelled(*order)
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", interval), zap.Duration("ttl", ttl))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			s.notifications.wait()
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, ttl); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Wait blocks until background notifications have been delivered.
func (s *Sweeper) Wait() { s.notifications.wait() }
