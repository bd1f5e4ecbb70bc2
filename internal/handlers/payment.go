package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

type paymentInitiator interface {
	Initiate(ctx context.Context, in services.InitiateInput, initiator services.Initiator) (*services.InitiateResult, error)
	Retry(ctx context.Context, orderID uuid.UUID, phoneNumber string, initiator services.Initiator) (*services.InitiateResult, error)
}

type paymentVerifier interface {
	Verify(ctx context.Context, orderID uuid.UUID, initiator services.Initiator, trigger services.Trigger) (*services.Verification, error)
	VerifyByHandle(ctx context.Context, handle string, initiator services.Initiator, trigger services.Trigger) (*services.Verification, error)
}

type paymentSweeper interface {
	Sweep(ctx context.Context, ttl time.Duration) (services.SweepResult, error)
}

type auditReader interface {
	List(ctx context.Context, orderID uuid.UUID, initiator services.Initiator, limit, offset int) (*services.LogPage, error)
}

// PaymentHandler serves the payment endpoints.
type PaymentHandler struct {
	initiation     paymentInitiator
	reconciliation paymentVerifier
	sweeper        paymentSweeper
	audit          auditReader
	paymentTTL     time.Duration
	logger         *zap.Logger
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(
	initiation paymentInitiator,
	reconciliation paymentVerifier,
	sweeper paymentSweeper,
	audit auditReader,
	paymentTTL time.Duration,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		initiation:     initiation,
		reconciliation: reconciliation,
		sweeper:        sweeper,
		audit:          audit,
		paymentTTL:     paymentTTL,
		logger:         logger,
	}
}

type cartItemRequest struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type shippingRequest struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
}

type initiateRequest struct {
	Items       []cartItemRequest `json:"items"`
	Tax         decimal.Decimal   `json:"tax"`
	ShippingFee decimal.Decimal   `json:"shipping_fee"`
	Discount    decimal.Decimal   `json:"discount"`
	Currency    string            `json:"currency"`
	Shipping    shippingRequest   `json:"shipping"`
	Provider    string            `json:"provider"`
	PhoneNumber string            `json:"phone_number"`
}

type orderRequest struct {
	OrderID     string `json:"order_id"`
	OrderIDAlt  string `json:"orderId"`
	PhoneNumber string `json:"phone_number"`
}

func (r orderRequest) parse() (uuid.UUID, error) {
	raw := r.OrderID
	if raw == "" {
		raw = r.OrderIDAlt
	}
	return uuid.Parse(raw)
}

// Initiate creates an order and pushes its payment to the chosen provider.
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	initiator, ok := middleware.CurrentInitiator(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	method, ok := models.ParsePaymentMethod(req.Provider)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "provider must be mpesa or stripe")
	}

	items := make([]services.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.CartItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	res, err := h.initiation.Initiate(c.UserContext(), services.InitiateInput{
		Items:       items,
		Tax:         req.Tax,
		ShippingFee: req.ShippingFee,
		Discount:    req.Discount,
		Currency:    req.Currency,
		Shipping:    models.ShippingSnapshot(req.Shipping),
		Method:      method,
		PhoneNumber: req.PhoneNumber,
	}, initiator)
	return h.writeInitiation(c, res, err, fiber.StatusCreated)
}

// Retry starts a new payment attempt for an unpaid order.
func (h *PaymentHandler) Retry(c *fiber.Ctx) error {
	initiator, ok := middleware.CurrentInitiator(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req orderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	orderID, err := req.parse()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order id")
	}

	res, err := h.initiation.Retry(c.UserContext(), orderID, req.PhoneNumber, initiator)
	return h.writeInitiation(c, res, err, fiber.StatusOK)
}

func (h *PaymentHandler) writeInitiation(c *fiber.Ctx, res *services.InitiateResult, err error, okStatus int) error {
	if err != nil {
		var se *services.ServiceError
		if !errors.As(err, &se) {
			return err
		}
		body := fiber.Map{"success": false, "message": se.Message}
		if res != nil && res.Order != nil {
			body["order_id"] = res.Order.ID
			body["order_number"] = res.Order.OrderNumber
		}
		return c.Status(se.StatusCode).JSON(body)
	}

	return c.Status(okStatus).JSON(fiber.Map{
		"success":      true,
		"order_id":     res.Order.ID,
		"order_number": res.Order.OrderNumber,
		"payment_id":   res.Payment.ID,
		"amount":       res.Payment.Amount,
		"currency":     res.Payment.Currency,
		"provider_handle": fiber.Map{
			"reference":        res.Handle.Reference,
			"redirect_url":     res.Handle.RedirectURL,
			"client_secret":    res.Handle.ClientSecret,
			"customer_message": res.Handle.CustomerMessage,
		},
	})
}

// Verify checks an order's payment with its provider on behalf of the owner or an admin.
func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	initiator, ok := middleware.CurrentInitiator(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req orderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	orderID, err := req.parse()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order id")
	}

	v, err := h.reconciliation.Verify(c.UserContext(), orderID, initiator, services.TriggerManual)
	if err != nil {
		return writeServiceError(c, err)
	}
	return writeVerification(c, v)
}

// Query is the poller endpoint: same as Verify but addressed by provider handle.
func (h *PaymentHandler) Query(c *fiber.Ctx) error {
	initiator, ok := middleware.CurrentInitiator(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	handle := c.Query("handle")
	if handle == "" {
		return fiber.NewError(fiber.StatusBadRequest, "handle is required")
	}

	v, err := h.reconciliation.VerifyByHandle(c.UserContext(), handle, initiator, services.TriggerPoll)
	if err != nil {
		return writeServiceError(c, err)
	}
	return writeVerification(c, v)
}

// AutoCancel runs one sweeper pass.
func (h *PaymentHandler) AutoCancel(c *fiber.Ctx) error {
	res, err := h.sweeper.Sweep(c.UserContext(), h.paymentTTL)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"cancelled": res.Cancelled,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	})
}

// Logs lists an order's payment audit trail, newest first.
func (h *PaymentHandler) Logs(c *fiber.Ctx) error {
	initiator, ok := middleware.CurrentInitiator(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	raw := c.Query("orderId", c.Query("order_id"))
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order id")
	}

	pagination := utils.ParsePagination(c)
	page, err := h.audit.List(c.UserContext(), orderID, initiator, pagination.Limit, pagination.Offset)
	if err != nil {
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       page.Logs,
		"pagination": pagination.Meta(page.Total),
	})
}

func writeVerification(c *fiber.Ctx, v *services.Verification) error {
	status := fiber.StatusAccepted
	switch {
	case v.Outcome == services.OutcomeSuccess:
		status = fiber.StatusOK
	case v.Outcome == services.OutcomeFailed:
		status = fiber.StatusBadRequest
	case v.Reason == services.ReasonProviderUnavailable:
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{
		"success": v.Outcome == services.OutcomeSuccess,
		"outcome": v.Outcome,
		"message": v.Message,
		"order":   v.Order,
		"payment": v.Payment,
	}
	if v.Reason != "" {
		body["reason"] = v.Reason
	}
	return c.Status(status).JSON(body)
}

func writeServiceError(c *fiber.Ctx, err error) error {
	var se *services.ServiceError
	if errors.As(err, &se) {
		return c.Status(se.StatusCode).JSON(fiber.Map{"success": false, "message": se.Message})
	}
	return err
}

// ErrorHandler renders fiber errors in the same envelope as handler responses.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"success": false, "message": message})
	}
}
