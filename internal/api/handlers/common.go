package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/storage/models"
)

type bucketRequest struct {
	ProjectID string `json:"project_id"`
	ModelID   string `json:"model_id"`
	Endpoint  string `json:"endpoint"`
	Day       string `json:"day"`
	TZ        string `json:"tz"`
}

// bucketFromRequest resolves a (key, day, tz) triple from either the JSON
// body or query parameters, whichever carries the values.
func bucketFromRequest(c *fiber.Ctx) (daybucket.DayBucket, *bucketRequest, error) {
	var req bucketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return daybucket.DayBucket{}, nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if req.ProjectID == "" {
		req.ProjectID = c.Query("project_id")
	}
	if req.ModelID == "" {
		req.ModelID = c.Query("model_id")
	}
	if req.Endpoint == "" {
		req.Endpoint = c.Query("endpoint")
	}
	if req.Day == "" {
		req.Day = c.Query("day")
	}
	if req.TZ == "" {
		req.TZ = c.Query("tz", "UTC")
	}

	if req.ProjectID == "" || req.ModelID == "" || req.Endpoint == "" || req.Day == "" {
		return daybucket.DayBucket{}, nil, fiber.NewError(fiber.StatusBadRequest, "project_id, model_id, endpoint and day are required")
	}

	key := models.ModelKey{ProjectID: req.ProjectID, ModelID: req.ModelID, Endpoint: req.Endpoint}
	bucket, err := daybucket.Bucket(key, req.Day, req.TZ)
	if err != nil {
		switch {
		case errors.Is(err, daybucket.ErrInvalidDay):
			return daybucket.DayBucket{}, nil, fiber.NewError(fiber.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		case errors.Is(err, daybucket.ErrInvalidTimezone):
			return daybucket.DayBucket{}, nil, fiber.NewError(fiber.StatusBadRequest, "Unknown timezone")
		default:
			return daybucket.DayBucket{}, nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	return bucket, &req, nil
}

func httpError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}
