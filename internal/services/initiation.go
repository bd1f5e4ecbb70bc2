package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/provider"
	"github.com/example/storefront/internal/repository"
)

// CartItem is one line of the cart snapshot taken at checkout.
type CartItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// InitiateInput is everything needed to open an order and push its payment.
type InitiateInput struct {
	Items       []CartItem
	Tax         decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Currency    string
	Shipping    models.ShippingSnapshot
	Method      models.PaymentMethod
	PhoneNumber string
}

// InitiateResult is the persisted order, its payment and the provider handle.
type InitiateResult struct {
	Order   *models.Order
	Payment *models.Payment
	Handle  *provider.Handle
}

// InitiationService creates orders and starts their provider payment flow.
type InitiationService struct {
	store           repository.Store
	providers       provider.Registry
	logger          *zap.Logger
	currency        string
	providerTimeout time.Duration
	now             func() time.Time
}

func NewInitiationService(
	store repository.Store,
	providers provider.Registry,
	logger *zap.Logger,
	currency string,
	providerTimeout time.Duration,
) *InitiationService {
	return &InitiationService{
		store:           store,
		providers:       providers,
		logger:          logger,
		currency:        currency,
		providerTimeout: providerTimeout,
		now:             time.Now,
	}
}

// Initiate creates the order and its pending payment, then pushes the payment to the
// provider. When the provider call fails the order is kept and returned together with
// the error, so the caller can report the order id and retry later.
func (s *InitiationService) Initiate(ctx context.Context, in InitiateInput, initiator Initiator) (*InitiateResult, error) {
	if _, ok := s.providers.Get(in.Method); !ok {
		return nil, invalidRequest("unsupported payment method")
	}

	order, err := s.buildOrder(in, initiator)
	if err != nil {
		return nil, err
	}

	var phone *string
	if in.Method == models.PaymentMethodMpesa {
		normalized, err := provider.NormalizePhone(firstNonEmpty(in.PhoneNumber, in.Shipping.Phone))
		if err != nil {
			return nil, invalidRequest(err.Error())
		}
		phone = &normalized
	}

	payment := &models.Payment{
		Status:      models.PaymentStatusPending,
		Method:      in.Method,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		PhoneNumber: phone,
	}

	if err := s.store.CreateOrder(ctx, order, payment); err != nil {
		return nil, internal("failed to create order", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("method", string(in.Method)),
		zap.String("amount", order.TotalAmount.String()),
	)

	result := &InitiateResult{Order: order, Payment: payment}
	handle, err := s.push(ctx, order, payment, "", initiator)
	if err != nil {
		return result, err
	}
	result.Handle = handle
	return result, nil
}

// Retry starts a new payment attempt for an order whose last attempt failed, or
// re-pushes a pending attempt the provider never accepted.
func (s *InitiationService) Retry(ctx context.Context, orderID uuid.UUID, phoneNumber string, initiator Initiator) (*InitiateResult, error) {
	order, payment, err := s.store.GetOrderWithPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("order or payment not found")
		}
		return nil, internal("failed to load order", err)
	}
	if !initiator.CanAccess(order) {
		return nil, forbidden("not allowed to pay for this order")
	}

	switch {
	case order.OrderStatus == models.OrderStatusCancelled:
		return nil, invalidRequest("order is cancelled")
	case order.PaymentStatus == models.OrderPaymentPaid || payment.Status == models.PaymentStatusCompleted:
		return nil, invalidRequest("order is already paid")
	case payment.Status == models.PaymentStatusPending && payment.Handle() != "":
		return nil, invalidRequest("payment is already in progress, verify it instead")
	}

	if _, ok := s.providers.Get(payment.Method); !ok {
		return nil, invalidRequest("unsupported payment method")
	}

	phone := payment.PhoneNumber
	if payment.Method == models.PaymentMethodMpesa && phoneNumber != "" {
		normalized, err := provider.NormalizePhone(phoneNumber)
		if err != nil {
			return nil, invalidRequest(err.Error())
		}
		phone = &normalized
	}

	if payment.Status == models.PaymentStatusFailed {
		next := &models.Payment{
			OrderID:     order.ID,
			Status:      models.PaymentStatusPending,
			Method:      payment.Method,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
			PhoneNumber: phone,
		}
		err := s.store.Transaction(ctx, func(tx repository.Tx) error {
			if _, err := tx.LockOrder(ctx, order.ID); err != nil {
				return err
			}
			reopened, err := tx.ReopenPayment(ctx, order.ID)
			if err != nil {
				return err
			}
			if !reopened {
				return invalidRequest("order is not awaiting a new payment")
			}
			return tx.CreatePayment(ctx, next)
		})
		if err != nil {
			var se *ServiceError
			if errors.As(err, &se) {
				return nil, se
			}
			return nil, internal("failed to open a new payment", err)
		}
		order.PaymentStatus = models.OrderPaymentPending
		payment = next
	}

	pushPhone := ""
	if phone != nil {
		pushPhone = *phone
	}

	result := &InitiateResult{Order: order, Payment: payment}
	handle, err := s.push(ctx, order, payment, pushPhone, initiator)
	if err != nil {
		return result, err
	}
	result.Handle = handle
	return result, nil
}

// push calls the provider, stores the idempotency key and audits the attempt.
func (s *InitiationService) push(ctx context.Context, order *models.Order, payment *models.Payment, phone string, initiator Initiator) (*provider.Handle, error) {
	adapter, _ := s.providers.Get(payment.Method)
	if phone == "" && payment.PhoneNumber != nil {
		phone = *payment.PhoneNumber
	}

	entry := newLog(order, payment, models.ActionPaymentInitiated, initiator)
	entry.Method = payment.Method

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	handle, err := adapter.Initiate(pctx, provider.InitiateRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Reference:      order.OrderNumber,
		PhoneNumber:    phone,
		Description:    "Order " + order.OrderNumber,
		IdempotencyKey: payment.ID.String(),
	})
	cancel()

	if err != nil {
		entry.Status = models.LogStatusFailed
		entry.ErrorMessage = err.Error()
		entry.SetDetails(map[string]any{"transient": provider.IsTransient(err)})
		appendDetached(ctx, s.store, s.logger, entry)

		s.logger.Warn("payment initiation failed",
			zap.String("order_id", order.ID.String()),
			zap.String("method", string(payment.Method)),
			zap.Error(err),
		)
		if provider.IsPermanent(err) {
			return nil, providerPermanent("payment provider rejected the request", err)
		}
		return nil, providerTransient("payment provider is unavailable, try again", err)
	}

	applied, err := s.store.AttachHandle(ctx, payment.ID, repository.HandleRef{
		Method:            payment.Method,
		Reference:         handle.Reference,
		MerchantRequestID: handle.MerchantRequestID,
	})
	if err != nil {
		return nil, internal("failed to store payment reference", err)
	}
	if !applied {
		return nil, internal("payment reference already set", nil)
	}
	setHandle(payment, handle)

	entry.Status = models.LogStatusSuccess
	entry.SetDetails(map[string]any{
		"reference":           handle.Reference,
		"merchant_request_id": handle.MerchantRequestID,
		"customer_message":    handle.CustomerMessage,
	})
	appendDetached(ctx, s.store, s.logger, entry)

	return handle, nil
}

func (s *InitiationService) buildOrder(in InitiateInput, initiator Initiator) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, invalidRequest("cart is empty")
	}
	if in.Tax.IsNegative() || in.ShippingFee.IsNegative() || in.Discount.IsNegative() {
		return nil, invalidRequest("order totals must not be negative")
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	subtotal := decimal.Zero
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, invalidRequest("item quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return nil, invalidRequest("item price must not be negative")
		}
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(line)
		items = append(items, models.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   line,
		})
	}

	total := subtotal.Add(in.Tax).Add(in.ShippingFee).Sub(in.Discount)
	if !total.IsPositive() {
		return nil, invalidRequest("order total must be greater than zero")
	}

	currency := strings.ToUpper(firstNonEmpty(in.Currency, s.currency))
	return &models.Order{
		UserID:        initiator.UserID,
		OrderNumber:   newOrderNumber(s.now()),
		Subtotal:      subtotal,
		Tax:           in.Tax,
		ShippingFee:   in.ShippingFee,
		Discount:      in.Discount,
		TotalAmount:   total,
		Currency:      currency,
		OrderStatus:   models.OrderStatusPending,
		PaymentStatus: models.OrderPaymentPending,
		Shipping:      in.Shipping,
		Items:         items,
	}, nil
}

func setHandle(payment *models.Payment, handle *provider.Handle) {
	ref := handle.Reference
	switch payment.Method {
	case models.PaymentMethodMpesa:
		payment.CheckoutRequestID = &ref
		if handle.MerchantRequestID != "" {
			mr := handle.MerchantRequestID
			payment.MerchantRequestID = &mr
		}
	case models.PaymentMethodStripe:
		payment.PaymentIntentID = &ref
	}
}

// newOrderNumber renders ORD-YYYYMMDD-XXXXXXXX.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
