package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, payments *handlers.PaymentHandler, cfg *config.Config) {
	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Provider callbacks
	if cfg.MpesaCallbackToken != "" {
		api.Post("/payments/mpesa/callback", middleware.CallbackAuth(cfg.MpesaCallbackToken), payments.MpesaCallback)
	}

	protected := api.Group("/payments", middleware.AuthMiddleware(cfg.JWTSecret))
	protected.Post("/initiate", payments.Initiate)
	protected.Post("/retry", payments.Retry)
	protected.Post("/verify", payments.Verify)
	protected.Get("/query", payments.Query)
	protected.Get("/logs", payments.Logs)

	// Admin routes
	protected.Post("/auto-cancel", middleware.RequireRole(services.RoleAdmin), payments.AutoCancel)
}
