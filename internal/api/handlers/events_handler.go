package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appmetrics "github.com/mlguard/backend/internal/metrics"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/pkg/logger"
)

type EventsHandler struct {
	store *sqlite.Client
}

func NewEventsHandler(store *sqlite.Client) *EventsHandler {
	return &EventsHandler{store: store}
}

type eventIn struct {
	ProjectID string                         `json:"project_id"`
	ModelID   string                         `json:"model_id"`
	Endpoint  string                         `json:"endpoint"`
	Timestamp *time.Time                     `json:"timestamp"`
	LatencyMS *int64                         `json:"latency_ms"`
	YPred     *int64                         `json:"y_pred"`
	YProba    *float64                       `json:"y_proba"`
	Features  map[string]models.FeatureValue `json:"features"`
}

// IngestEvents accepts a single event object or an array of them.
func (h *EventsHandler) IngestEvents(c *fiber.Ctx) error {
	body := c.Body()

	var batch []eventIn
	if err := json.Unmarshal(body, &batch); err != nil {
		var single eventIn
		if err := json.Unmarshal(body, &single); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		batch = []eventIn{single}
	}

	if len(batch) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No events provided",
		})
	}

	now := time.Now().UTC()
	events := make([]models.Event, 0, len(batch))
	for _, in := range batch {
		if in.ProjectID == "" || in.ModelID == "" || in.Endpoint == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "project_id, model_id and endpoint are required",
			})
		}
		if len(in.Features) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "features must be a non-empty object",
			})
		}
		if in.YProba != nil && (*in.YProba < 0 || *in.YProba > 1) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "y_proba must be in [0, 1]",
			})
		}
		if in.LatencyMS != nil && *in.LatencyMS < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "latency_ms must be non-negative",
			})
		}

		ts := now
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}

		events = append(events, models.Event{
			ID:        uuid.New().String(),
			ProjectID: in.ProjectID,
			ModelID:   in.ModelID,
			Endpoint:  in.Endpoint,
			Timestamp: ts,
			LatencyMS: in.LatencyMS,
			YPred:     in.YPred,
			YProba:    in.YProba,
			Features:  in.Features,
		})
	}

	if err := h.store.InsertEvents(c.Context(), events); err != nil {
		logger.Error("Failed to insert events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store events",
		})
	}

	appmetrics.EventsIngested.Add(float64(len(events)))

	return c.JSON(fiber.Map{
		"inserted": len(events),
	})
}
