// Package alerts turns drift, latency, and cost observations into
// deduplicated alert records.
package alerts

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/drift"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/pkg/logger"
)

type Store interface {
	InsertAlertOnce(ctx context.Context, a *models.Alert) (bool, error)
}

// Notifier delivers an alert out of band. Failures are logged, never fatal.
type Notifier interface {
	NotifyAlert(ctx context.Context, a *models.Alert) error
}

// Thresholds configure alerting per kind. A zero threshold disables the kind.
type Thresholds struct {
	Drift          float64
	LatencyP95MS   float64
	CostSpikeRatio float64
}

type Evaluator struct {
	store    Store
	hub      *Hub
	notifier Notifier
}

func NewEvaluator(store Store, hub *Hub, notifier Notifier) *Evaluator {
	return &Evaluator{store: store, hub: hub, notifier: notifier}
}

// Evaluate applies thresholds to a bucket's drift results and daily metric.
// Re-running for the same bucket is idempotent: the dedupe key
// (project, model, endpoint, feature, day, kind) swallows repeats.
func (e *Evaluator) Evaluate(ctx context.Context, bucket daybucket.DayBucket, results map[string]*models.DriftResult, metric *models.DailyMetric, th Thresholds) ([]models.Alert, error) {
	var created []models.Alert

	if th.Drift > 0 {
		for feature, r := range results {
			if r.Status != models.DriftOK || r.Score == nil || *r.Score <= th.Drift {
				continue
			}
			alert := models.Alert{
				ID:        uuid.New().String(),
				ProjectID: bucket.Key.ProjectID,
				ModelID:   bucket.Key.ModelID,
				Endpoint:  bucket.Key.Endpoint,
				Feature:   feature,
				Day:       bucket.Day,
				Kind:      models.AlertDrift,
				Severity:  drift.ClassifySeverity(*r.Score),
				Value:     *r.Score,
				Threshold: th.Drift,
			}
			ok, err := e.emit(ctx, &alert)
			if err != nil {
				return created, err
			}
			if ok {
				created = append(created, alert)
			}
		}
	}

	if th.LatencyP95MS > 0 && metric != nil && metric.LatencyP95MS != nil && *metric.LatencyP95MS > th.LatencyP95MS {
		alert := models.Alert{
			ID:        uuid.New().String(),
			ProjectID: bucket.Key.ProjectID,
			ModelID:   bucket.Key.ModelID,
			Endpoint:  bucket.Key.Endpoint,
			Day:       bucket.Day,
			Kind:      models.AlertLatency,
			Severity:  drift.SeverityAlert,
			Value:     *metric.LatencyP95MS,
			Threshold: th.LatencyP95MS,
		}
		ok, err := e.emit(ctx, &alert)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, alert)
		}
	}

	return created, nil
}

// EvaluateCost compares the day's total cost against a trailing average.
// ratio = total / trailingAvg; a ratio above the threshold raises one alert.
func (e *Evaluator) EvaluateCost(ctx context.Context, projectID, day string, total, trailingAvg float64, th Thresholds) (*models.Alert, error) {
	if th.CostSpikeRatio <= 0 || trailingAvg <= 0 {
		return nil, nil
	}

	ratio := total / trailingAvg
	if ratio <= th.CostSpikeRatio {
		return nil, nil
	}

	alert := models.Alert{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Day:       day,
		Kind:      models.AlertCost,
		Severity:  drift.SeverityAlert,
		Value:     ratio,
		Threshold: th.CostSpikeRatio,
	}
	ok, err := e.emit(ctx, &alert)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &alert, nil
}

func (e *Evaluator) emit(ctx context.Context, alert *models.Alert) (bool, error) {
	created, err := e.store.InsertAlertOnce(ctx, alert)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	logger.Info("Alert created",
		zap.String("project_id", alert.ProjectID),
		zap.String("kind", string(alert.Kind)),
		zap.String("feature", alert.Feature),
		zap.String("day", alert.Day),
		zap.Float64("value", alert.Value),
		zap.Float64("threshold", alert.Threshold),
	)

	if e.hub != nil {
		e.hub.Publish(*alert)
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyAlert(ctx, alert); err != nil {
			logger.Warn("Alert notification failed", zap.Error(err))
		}
	}

	return true, nil
}
