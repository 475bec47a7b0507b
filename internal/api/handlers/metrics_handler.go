package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/cache/redis"
	appmetrics "github.com/mlguard/backend/internal/metrics"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/internal/worker"
	"github.com/mlguard/backend/pkg/logger"
	"github.com/mlguard/backend/pkg/utils"
)

type MetricsHandler struct {
	pipeline *worker.Pipeline
	store    *sqlite.Client
	cache    *redis.Client // nil when caching is disabled
}

func NewMetricsHandler(pipeline *worker.Pipeline, store *sqlite.Client, cache *redis.Client) *MetricsHandler {
	return &MetricsHandler{pipeline: pipeline, store: store, cache: cache}
}

// ComputeDaily recomputes the daily metric row for one (key, day, tz) bucket.
func (h *MetricsHandler) ComputeDaily(c *fiber.Ctx) error {
	bucket, _, err := bucketFromRequest(c)
	if err != nil {
		return httpError(c, err)
	}

	metric, err := h.pipeline.ComputeMetrics(c.Context(), bucket)
	if err != nil {
		logger.Error("Failed to compute daily metrics",
			zap.String("project_id", bucket.Key.ProjectID),
			zap.String("day", bucket.Day),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute metrics",
		})
	}

	if h.cache != nil {
		h.cache.Delete(c.Context(), metricCacheKey(bucket.Key, bucket.Day))
	}

	return c.JSON(metric)
}

// GetDaily returns a previously computed daily metric row.
func (h *MetricsHandler) GetDaily(c *fiber.Ctx) error {
	bucket, _, err := bucketFromRequest(c)
	if err != nil {
		return httpError(c, err)
	}

	cacheKey := metricCacheKey(bucket.Key, bucket.Day)
	if h.cache != nil {
		var cached models.DailyMetric
		found, err := h.cache.GetJSON(c.Context(), cacheKey, &cached)
		if err == nil && found {
			appmetrics.CacheHits.WithLabelValues("metrics").Inc()
			return c.JSON(cached)
		}
		appmetrics.CacheMisses.WithLabelValues("metrics").Inc()
	}

	metric, err := h.store.GetDailyMetric(c.Context(), bucket.Key, bucket.Day)
	if err != nil {
		logger.Error("Failed to load daily metrics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load metrics",
		})
	}
	if metric == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No metrics for that day",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(c.Context(), cacheKey, metric); err != nil {
			logger.Warn("Failed to cache daily metrics", zap.Error(err))
		}
	}

	return c.JSON(metric)
}

func metricCacheKey(key models.ModelKey, day string) string {
	return "metrics:daily:" + utils.HashString(fmt.Sprintf("%s/%s/%s/%s", key.ProjectID, key.ModelID, key.Endpoint, day))
}
