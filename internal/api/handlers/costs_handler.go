package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/costs"
	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/drift"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/internal/worker"
	"github.com/mlguard/backend/pkg/logger"
)

type CostsHandler struct {
	pipeline   *worker.Pipeline
	store      *sqlite.Client
	alerter    *alerts.Evaluator
	thresholds alerts.Thresholds
	enabled    bool
}

func NewCostsHandler(pipeline *worker.Pipeline, store *sqlite.Client, alerter *alerts.Evaluator, thresholds alerts.Thresholds, enabled bool) *CostsHandler {
	return &CostsHandler{pipeline: pipeline, store: store, alerter: alerter, thresholds: thresholds, enabled: enabled}
}

// Pull fetches one day of per-service costs from the provider and stores it.
func (h *CostsHandler) Pull(c *fiber.Ctx) error {
	if !h.enabled {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Cost pulling is not configured",
		})
	}

	var req struct {
		ProjectID string `json:"project_id"`
		Day       string `json:"day"`
		Overwrite bool   `json:"overwrite"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ProjectID == "" || req.Day == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id and day are required",
		})
	}
	if _, err := daybucket.ParseDay(req.Day); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "day must be formatted as YYYY-MM-DD",
		})
	}

	result, err := h.pipeline.PullCosts(c.Context(), req.ProjectID, req.Day, req.Overwrite)
	if err != nil {
		if errors.Is(err, costs.ErrUpstreamUnavailable) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Cost provider is unavailable",
			})
		}
		logger.Error("Failed to pull costs",
			zap.String("project_id", req.ProjectID),
			zap.String("day", req.Day),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pull costs",
		})
	}

	return c.JSON(result)
}

// CheckSpike compares the stored TOTAL cost for a day against the trailing
// average and optionally raises a deduplicated cost alert. It reads stored
// rows only, so it works even when the cost provider is disabled.
func (h *CostsHandler) CheckSpike(c *fiber.Ctx) error {
	var req struct {
		ProjectID    string   `json:"project_id"`
		Day          string   `json:"day"`
		LookbackDays int      `json:"lookback_days"`
		Ratio        *float64 `json:"ratio"`
		Alert        *bool    `json:"alert"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ProjectID == "" || req.Day == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id and day are required",
		})
	}
	if _, err := daybucket.ParseDay(req.Day); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "day must be formatted as YYYY-MM-DD",
		})
	}
	lookback := req.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	raiseAlert := true
	if req.Alert != nil {
		raiseAlert = *req.Alert
	}

	total, err := h.store.TotalCost(c.Context(), req.ProjectID, req.Day)
	if err != nil {
		logger.Error("Failed to load total cost", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load costs",
		})
	}
	if total == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No stored TOTAL cost for that day; pull costs first",
		})
	}

	avg, err := h.store.TrailingAverageTotalCost(c.Context(), req.ProjectID, req.Day, lookback)
	if err != nil {
		logger.Error("Failed to average costs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load costs",
		})
	}
	if avg == nil || *avg <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Not enough cost history to compute a trailing average",
		})
	}

	th := h.thresholds
	if req.Ratio != nil {
		th.CostSpikeRatio = *req.Ratio
	}

	ratio := *total / *avg
	isSpike := th.CostSpikeRatio > 0 && ratio > th.CostSpikeRatio
	severity := drift.SeverityOK
	if isSpike {
		severity = drift.SeverityAlert
	}

	response := fiber.Map{
		"project_id":   req.ProjectID,
		"day":          req.Day,
		"total":        *total,
		"trailing_avg": *avg,
		"ratio":        ratio,
		"threshold":    th.CostSpikeRatio,
		"is_spike":     isSpike,
		"severity":     severity,
	}

	if raiseAlert && isSpike {
		created, err := h.alerter.EvaluateCost(c.Context(), req.ProjectID, req.Day, *total, *avg, th)
		if err != nil {
			logger.Error("Failed to create cost alert", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create cost alert",
			})
		}
		response["alert"] = created
	}

	return c.JSON(response)
}

// GetDaily returns the stored per-service cost rows for one project day.
func (h *CostsHandler) GetDaily(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	day := c.Query("day")
	if projectID == "" || day == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id and day are required",
		})
	}

	rows, err := h.store.ListDailyCosts(c.Context(), projectID, day)
	if err != nil {
		logger.Error("Failed to load daily costs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load costs",
		})
	}

	return c.JSON(fiber.Map{"costs": rows})
}
