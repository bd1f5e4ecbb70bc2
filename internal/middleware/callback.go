package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// CallbackAuth guards provider-facing callback routes. The shared token travels in
// the callback URL registered with the provider (?token=...). Rejections use the
// Daraja acknowledgement shape so the provider logs a readable error.
func CallbackAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Query("token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"ResultCode": 1,
				"ResultDesc": "Rejected",
			})
		}
		return c.Next()
	}
}
