package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/notify"
)

const notifyTimeout = 30 * time.Second

// dispatcher runs notifications in the background once a transition has committed.
type dispatcher struct {
	notifier notify.Notifier
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func newDispatcher(n notify.Notifier, logger *zap.Logger) *dispatcher {
	if n == nil {
		n = notify.Nop{}
	}
	return &dispatcher{notifier: n, logger: logger}
}

func (d *dispatcher) paymentConfirmed(order models.Order, payment models.Payment) {
	d.run("payment_confirmed", order.ID.String(), func(ctx context.Context) error {
		return d.notifier.PaymentConfirmed(ctx, order, payment)
	})
}

func (d *dispatcher) orderCancelled(order models.Order) {
	d.run("order_cancelled", order.ID.String(), func(ctx context.Context) error {
		return d.notifier.OrderCancelled(ctx, order)
	})
}

func (d *dispatcher) run(event, orderID string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("notification failed",
				zap.String("event", event),
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}()
}

// wait blocks until in-flight notifications finish.
func (d *dispatcher) wait() { d.wg.Wait() }
