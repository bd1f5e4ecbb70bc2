package models

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderPaymentStatus is the payment state as seen from the order.
type OrderPaymentStatus string

const (
	OrderPaymentPending  OrderPaymentStatus = "PENDING"
	OrderPaymentPaid     OrderPaymentStatus = "PAID"
	OrderPaymentFailed   OrderPaymentStatus = "FAILED"
	OrderPaymentRefunded OrderPaymentStatus = "REFUNDED"
)

// PaymentStatus is the state of a single provider payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentMethod identifies the provider behind a payment.
type PaymentMethod string

const (
	PaymentMethodMpesa  PaymentMethod = "MPESA"
	PaymentMethodStripe PaymentMethod = "STRIPE"
)

// ParsePaymentMethod accepts the lower or upper case provider name.
func ParsePaymentMethod(v string) (PaymentMethod, bool) {
	switch v {
	case "mpesa", "MPESA", "mobile_money":
		return PaymentMethodMpesa, true
	case "stripe", "STRIPE", "card":
		return PaymentMethodStripe, true
	}
	return "", false
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

var orderPaymentTransitions = map[OrderPaymentStatus][]OrderPaymentStatus{
	OrderPaymentPending:  {OrderPaymentPaid, OrderPaymentFailed},
	OrderPaymentFailed:   {OrderPaymentPending},
	OrderPaymentPaid:     {OrderPaymentRefunded},
	OrderPaymentRefunded: {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted: {},
	PaymentStatusFailed:    {},
}

// CanTransition reports whether the order may move from one status to another.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return contains(orderTransitions[s], to)
}

// Cancellable is true while the order has not left the warehouse.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// CanTransition reports whether the order payment status may move to the target.
// FAILED -> PENDING is only taken when a new payment attempt is started.
func (s OrderPaymentStatus) CanTransition(to OrderPaymentStatus) bool {
	return contains(orderPaymentTransitions[s], to)
}

// CanTransition reports whether a payment attempt may move to the target.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return contains(paymentTransitions[s], to)
}

// Terminal is true once a provider has confirmed or rejected the payment.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
