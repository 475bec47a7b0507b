package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mlguard/backend/internal/storage/sqlite"
)

type HealthHandler struct {
	store *sqlite.Client
}

func NewHealthHandler(store *sqlite.Client) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	if err := h.store.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
