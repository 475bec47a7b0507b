package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/pkg/logger"
)

type DiscoverHandler struct {
	store *sqlite.Client
}

func NewDiscoverHandler(store *sqlite.Client) *DiscoverHandler {
	return &DiscoverHandler{store: store}
}

// Models lists the (project, model, endpoint) keys seen in the event stream.
func (h *DiscoverHandler) Models(c *fiber.Ctx) error {
	projectID := c.Query("project_id")

	var (
		keys []models.ModelKey
		err  error
	)
	if projectID != "" {
		keys, err = h.store.DiscoverModels(c.Context(), projectID)
	} else {
		keys, err = h.store.DiscoverKeys(c.Context())
	}
	if err != nil {
		logger.Error("Failed to discover models", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to discover models",
		})
	}

	return c.JSON(fiber.Map{"models": keys})
}

// Days lists the UTC days that carry events for one model key.
func (h *DiscoverHandler) Days(c *fiber.Ctx) error {
	key := models.ModelKey{
		ProjectID: c.Query("project_id"),
		ModelID:   c.Query("model_id"),
		Endpoint:  c.Query("endpoint"),
	}
	if key.ProjectID == "" || key.ModelID == "" || key.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id, model_id and endpoint are required",
		})
	}

	days, err := h.store.DiscoverDays(c.Context(), key)
	if err != nil {
		logger.Error("Failed to discover days", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to discover days",
		})
	}

	return c.JSON(fiber.Map{"days": days})
}
