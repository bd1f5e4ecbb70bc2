package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/utils"
)

const initiatorContextKey = "currentInitiator"

// AuthMiddleware validates bearer tokens and stores the caller in the request context.
// Roles other than admin are treated as customer.
func AuthMiddleware(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		identity, err := utils.ParseToken(jwtSecret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		role := services.RoleCustomer
		if identity.Role == services.RoleAdmin {
			role = services.RoleAdmin
		}

		c.Locals(initiatorContextKey, services.Initiator{UserID: identity.UserID, Role: role})
		return c.Next()
	}
}

// RequireRole rejects callers without the given role. It must run after AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		initiator, ok := CurrentInitiator(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		if initiator.Role != role {
			return fiber.NewError(fiber.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// CurrentInitiator extracts the authenticated caller from context.
func CurrentInitiator(c *fiber.Ctx) (services.Initiator, bool) {
	initiator, ok := c.Locals(initiatorContextKey).(services.Initiator)
	return initiator, ok
}
