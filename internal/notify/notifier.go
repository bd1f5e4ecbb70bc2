package notify

import (
	"context"
	"errors"

	"github.com/example/storefront/internal/models"
)

// Notifier is told about committed payment transitions. Calls happen after the
// store transaction, so a failed notification never affects order state.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, order models.Order, payment models.Payment) error
	OrderCancelled(ctx context.Context, order models.Order) error
}

// Multi fans a notification out to every configured notifier.
type Multi []Notifier

func (m Multi) PaymentConfirmed(ctx context.Context, order models.Order, payment models.Payment) error {
	var errs []error
	for _, n := range m {
		if err := n.PaymentConfirmed(ctx, order, payment); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) OrderCancelled(ctx context.Context, order models.Order) error {
	var errs []error
	for _, n := range m {
		if err := n.OrderCancelled(ctx, order); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) PaymentConfirmed(context.Context, models.Order, models.Payment) error { return nil }
func (Nop) OrderCancelled(context.Context, models.Order) error                   { return nil }
