package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/cache/redis"
	"github.com/mlguard/backend/internal/drift"
	appmetrics "github.com/mlguard/backend/internal/metrics"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/internal/worker"
	"github.com/mlguard/backend/pkg/logger"
	"github.com/mlguard/backend/pkg/utils"
)

type DriftHandler struct {
	pipeline   *worker.Pipeline
	engine     *drift.Engine
	store      *sqlite.Client
	cache      *redis.Client // nil when caching is disabled
	thresholds alerts.Thresholds
}

func NewDriftHandler(pipeline *worker.Pipeline, engine *drift.Engine, store *sqlite.Client, cache *redis.Client, thresholds alerts.Thresholds) *DriftHandler {
	return &DriftHandler{pipeline: pipeline, engine: engine, store: store, cache: cache, thresholds: thresholds}
}

// ComputeAll evaluates drift for every feature of one bucket and optionally
// runs the alert evaluator over the fresh results.
func (h *DriftHandler) ComputeAll(c *fiber.Ctx) error {
	bucket, _, err := bucketFromRequest(c)
	if err != nil {
		return httpError(c, err)
	}

	var opts struct {
		EvaluateAlerts bool     `json:"evaluate_alerts"`
		Threshold      *float64 `json:"threshold"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&opts); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	results, err := h.pipeline.ComputeDrift(c.Context(), bucket)
	if err != nil {
		logger.Error("Failed to compute drift",
			zap.String("project_id", bucket.Key.ProjectID),
			zap.String("day", bucket.Day),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute drift",
		})
	}

	if h.cache != nil {
		h.cache.Delete(c.Context(), driftCacheKey(bucket.Key, bucket.Day))
	}

	response := fiber.Map{"results": results}

	if opts.EvaluateAlerts {
		th := h.thresholds
		if opts.Threshold != nil {
			th.Drift = *opts.Threshold
		}
		created, err := h.pipeline.EvaluateAlerts(c.Context(), bucket, results, nil, th)
		if err != nil {
			logger.Error("Failed to evaluate alerts", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to evaluate alerts",
			})
		}
		response["alerts"] = created
	}

	return c.JSON(response)
}

// Compute evaluates drift for a single feature of one bucket.
func (h *DriftHandler) Compute(c *fiber.Ctx) error {
	bucket, _, err := bucketFromRequest(c)
	if err != nil {
		return httpError(c, err)
	}

	var opts struct {
		Feature string `json:"feature"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&opts); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	if opts.Feature == "" {
		opts.Feature = c.Query("feature")
	}
	if opts.Feature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "feature is required",
		})
	}

	result, err := h.engine.Evaluate(c.Context(), bucket, opts.Feature)
	if err != nil {
		logger.Error("Failed to compute drift", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute drift",
		})
	}

	if h.cache != nil {
		h.cache.Delete(c.Context(), driftCacheKey(bucket.Key, bucket.Day))
	}

	return c.JSON(result)
}

// GetDaily returns the stored drift rows for one bucket.
func (h *DriftHandler) GetDaily(c *fiber.Ctx) error {
	bucket, _, err := bucketFromRequest(c)
	if err != nil {
		return httpError(c, err)
	}

	cacheKey := driftCacheKey(bucket.Key, bucket.Day)
	if h.cache != nil {
		var cached []models.DriftResult
		found, err := h.cache.GetJSON(c.Context(), cacheKey, &cached)
		if err == nil && found {
			appmetrics.CacheHits.WithLabelValues("drift").Inc()
			return c.JSON(fiber.Map{"results": cached})
		}
		appmetrics.CacheMisses.WithLabelValues("drift").Inc()
	}

	results, err := h.store.GetDriftResults(c.Context(), bucket.Key, bucket.Day)
	if err != nil {
		logger.Error("Failed to load drift results", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load drift results",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(c.Context(), cacheKey, results); err != nil {
			logger.Warn("Failed to cache drift results", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"results": results})
}

func driftCacheKey(key models.ModelKey, day string) string {
	return "drift:daily:" + utils.HashString(fmt.Sprintf("%s/%s/%s/%s", key.ProjectID, key.ModelID, key.Endpoint, day))
}

// CaptureBaseline snapshots feature distributions over an absolute UTC window.
func (h *DriftHandler) CaptureBaseline(c *fiber.Ctx) error {
	var req struct {
		ProjectID string    `json:"project_id"`
		ModelID   string    `json:"model_id"`
		Endpoint  string    `json:"endpoint"`
		Feature   string    `json:"feature"`
		Features  []string  `json:"features"`
		From      time.Time `json:"from"`
		To        time.Time `json:"to"`
		Overwrite bool      `json:"overwrite"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ProjectID == "" || req.ModelID == "" || req.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id, model_id and endpoint are required",
		})
	}
	features := req.Features
	if req.Feature != "" {
		features = append(features, req.Feature)
	}
	if len(features) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one feature is required",
		})
	}

	key := models.ModelKey{ProjectID: req.ProjectID, ModelID: req.ModelID, Endpoint: req.Endpoint}
	captured := make([]*models.Baseline, 0, len(features))
	for _, feature := range features {
		baseline, err := h.engine.CaptureBaseline(c.Context(), key, feature, req.From, req.To, req.Overwrite)
		if err != nil {
			switch {
			case errors.Is(err, drift.ErrInvalidWindow):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "from must be before to",
				})
			case errors.Is(err, drift.ErrEmptyWindow):
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":   "No events in the baseline window",
					"feature": feature,
				})
			case errors.Is(err, drift.ErrBaselineExists):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error":   "Baseline already exists; pass overwrite=true to replace it",
					"feature": feature,
				})
			default:
				logger.Error("Failed to capture baseline",
					zap.String("feature", feature),
					zap.Error(err))
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to capture baseline",
				})
			}
		}
		captured = append(captured, baseline)
		appmetrics.BaselinesCaptured.Inc()
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"baselines": captured})
}

// ListBaselines returns the stored baselines for one model key.
func (h *DriftHandler) ListBaselines(c *fiber.Ctx) error {
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

	baselines, err := h.store.ListBaselines(c.Context(), key)
	if err != nil {
		logger.Error("Failed to list baselines", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list baselines",
		})
	}

	return c.JSON(fiber.Map{"baselines": baselines})
}
