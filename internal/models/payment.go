package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is one provider payment attempt owned by an order.
//
// Exactly one of CheckoutRequestID (mobile money) and PaymentIntentID (card) is
// set once the provider has accepted the request; neither changes afterwards.
type Payment struct {
	BaseModel
	OrderID           uuid.UUID       `gorm:"type:uuid;index;not null" json:"order_id"`
	Status            PaymentStatus   `gorm:"type:varchar(20);index;not null" json:"status"`
	Method            PaymentMethod   `gorm:"type:varchar(20);not null" json:"method"`
	Amount            decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(8);not null" json:"currency"`
	CheckoutRequestID *string         `gorm:"uniqueIndex" json:"checkout_request_id,omitempty"`
	MerchantRequestID *string         `json:"merchant_request_id,omitempty"`
	PaymentIntentID   *string         `gorm:"uniqueIndex" json:"payment_intent_id,omitempty"`
	PhoneNumber       *string         `json:"phone_number,omitempty"`
	ResultCode        string          `json:"result_code,omitempty"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	ProviderReceipt   string          `json:"provider_receipt,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// Handle returns the provider idempotency key, or "" before initiation succeeded.
func (p *Payment) Handle() string {
	switch {
	case p.CheckoutRequestID != nil && *p.CheckoutRequestID != "":
		return *p.CheckoutRequestID
	case p.PaymentIntentID != nil && *p.PaymentIntentID != "":
		return *p.PaymentIntentID
	}
	return ""
}

// Provider derives the provider from the populated idempotency key, falling back
// to the method chosen at checkout when no key is stored yet.
func (p *Payment) Provider() PaymentMethod {
	switch {
	case p.CheckoutRequestID != nil && *p.CheckoutRequestID != "":
		return PaymentMethodMpesa
	case p.PaymentIntentID != nil && *p.PaymentIntentID != "":
		return PaymentMethodStripe
	}
	return p.Method
}
