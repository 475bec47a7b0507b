package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mlguard/backend/pkg/config"
	"github.com/mlguard/backend/pkg/logger"
)

// APIKey guards mutating routes. Absence or mismatch of the configured header
// yields 401; a disabled auth section passes everything through.
func APIKey(cfg config.AuthConfig) fiber.Handler {
	header := cfg.Header
	if header == "" {
		header = "X-API-Key"
	}

	return func(c *fiber.Ctx) error {
		if !cfg.Enabled {
			return c.Next()
		}

		key := c.Get(header)
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
			logger.Warn("Rejected request with invalid API key",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
