package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	AllowedContentTypes []string
}

// Middleware rejects mutating requests that do not carry an accepted
// content type. GET and websocket upgrades pass through untouched.
func Middleware(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType == "" && len(c.Body()) == 0 {
			return c.Next()
		}

		for _, allowed := range cfg.AllowedContentTypes {
			if strings.Contains(contentType, allowed) {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}
