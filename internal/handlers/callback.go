package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/services"
)

type stkCallbackRequest struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// MpesaCallback receives Daraja STK results. The payload is only a hint: the payment
// is reconciled by querying the provider, exactly as a poll would.
func (h *PaymentHandler) MpesaCallback(c *fiber.Ctx) error {
	var req stkCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ResultCode": 1, "ResultDesc": "invalid payload"})
	}

	cb := req.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ResultCode": 1, "ResultDesc": "missing CheckoutRequestID"})
	}

	h.logger.Info("mpesa callback",
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("result_code", cb.ResultCode),
		zap.String("result_desc", cb.ResultDesc),
	)

	v, err := h.reconciliation.VerifyByHandle(c.UserContext(), cb.CheckoutRequestID, services.System(), services.TriggerPoll)
	if err != nil {
		// Acknowledge anyway; Daraja retries are not useful for unknown handles.
		h.logger.Warn("mpesa callback reconcile failed",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Error(err),
		)
	} else {
		h.logger.Info("mpesa callback reconciled",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("outcome", string(v.Outcome)),
			zap.Bool("transitioned", v.Transitioned),
		)
	}

	return c.JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}
