package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const callerKey = "user_id"

// TokenValidator returns the authenticated user id for a bearer token.
type TokenValidator interface {
	Validate(token string) (string, error)
}

func JWT(v TokenValidator, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header"})
		}
		sub, err := v.Validate(parts[1])
		if err != nil {
			logger.Debug("token rejected", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(callerKey, sub)
		return c.Next()
	}
}

// CallerID returns the user id JWT stored on the request, or "".
func CallerID(c *fiber.Ctx) string {
	id, _ := c.Locals(callerKey).(string)
	return id
}
