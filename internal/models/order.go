package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is one checkout attempt.
type Order struct {
	BaseModel
	UserID             string             `gorm:"index;not null" json:"user_id"`
	OrderNumber        string             `gorm:"uniqueIndex;not null" json:"order_number"`
	Subtotal           decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	Tax                decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"tax"`
	ShippingFee        decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"shipping_fee"`
	Discount           decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"discount"`
	TotalAmount        decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"total_amount"`
	Currency           string             `gorm:"type:varchar(8);not null" json:"currency"`
	OrderStatus        OrderStatus        `gorm:"type:varchar(20);index;not null" json:"order_status"`
	PaymentStatus      OrderPaymentStatus `gorm:"type:varchar(20);index;not null" json:"payment_status"`
	Shipping           ShippingSnapshot   `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping"`
	PaidAt             *time.Time         `json:"paid_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	Items              []OrderItem        `json:"items,omitempty"`
}

// ShippingSnapshot freezes the delivery details at checkout time.
type ShippingSnapshot struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
}

type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,2)" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(14,2)" json:"line_total"`
}

// OwnedBy reports whether the order belongs to the given user.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}
