// Package worker drives the daily pipeline: metrics, drift, alerts, and a
// best-effort cost pull, either on a schedule or on demand.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/aggregate"
	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/costs"
	"github.com/mlguard/backend/internal/daybucket"
	appmetrics "github.com/mlguard/backend/internal/metrics"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/pkg/logger"
)

type DiscoveryStore interface {
	DiscoverKeys(ctx context.Context) ([]models.ModelKey, error)
	DiscoverProjects(ctx context.Context) ([]string, error)
	HasBaselines(ctx context.Context, key models.ModelKey) (bool, error)
	TrailingAverageTotalCost(ctx context.Context, projectID, day string, lookbackDays int) (*float64, error)
}

type DriftEngine interface {
	EvaluateAll(ctx context.Context, bucket daybucket.DayBucket) (map[string]*models.DriftResult, error)
}

type CostPuller interface {
	PullAndStore(ctx context.Context, projectID, day string, overwrite bool) (*costs.PullResult, error)
}

// Pipeline is the single orchestration point shared by the scheduler and the
// on-demand API, so the per-bucket serialization guarantee holds across both.
type Pipeline struct {
	store      DiscoveryStore
	aggregator *aggregate.Aggregator
	drift      DriftEngine
	alerter    *alerts.Evaluator
	puller     CostPuller // nil when cost pulling is disabled
	thresholds alerts.Thresholds
	locks      *keyLock
}

func NewPipeline(store DiscoveryStore, aggregator *aggregate.Aggregator, drift DriftEngine, alerter *alerts.Evaluator, puller CostPuller, thresholds alerts.Thresholds) *Pipeline {
	return &Pipeline{
		store:      store,
		aggregator: aggregator,
		drift:      drift,
		alerter:    alerter,
		puller:     puller,
		thresholds: thresholds,
		locks:      newKeyLock(),
	}
}

func bucketLockKey(bucket daybucket.DayBucket) string {
	return fmt.Sprintf("%s/%s/%s/%s", bucket.Key.ProjectID, bucket.Key.ModelID, bucket.Key.Endpoint, bucket.Day)
}

// ComputeMetrics recomputes the bucket's DailyMetric under the bucket lock.
func (p *Pipeline) ComputeMetrics(ctx context.Context, bucket daybucket.DayBucket) (*models.DailyMetric, error) {
	key := bucketLockKey(bucket)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	metric, err := p.aggregator.Compute(ctx, bucket)
	if err != nil {
		appmetrics.PipelineStageTotal.WithLabelValues("metrics", "error").Inc()
		return nil, err
	}
	appmetrics.PipelineStageTotal.WithLabelValues("metrics", "ok").Inc()
	return metric, nil
}

// ComputeDrift evaluates all features for the bucket under the bucket lock.
func (p *Pipeline) ComputeDrift(ctx context.Context, bucket daybucket.DayBucket) (map[string]*models.DriftResult, error) {
	key := bucketLockKey(bucket)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	results, err := p.drift.EvaluateAll(ctx, bucket)
	if err != nil {
		appmetrics.PipelineStageTotal.WithLabelValues("drift", "error").Inc()
		return nil, err
	}
	appmetrics.PipelineStageTotal.WithLabelValues("drift", "ok").Inc()

	for _, r := range results {
		if r.Score != nil {
			appmetrics.DriftScore.WithLabelValues(string(r.Kind)).Observe(*r.Score)
		}
	}

	return results, nil
}

// EvaluateAlerts applies thresholds to already-computed results.
func (p *Pipeline) EvaluateAlerts(ctx context.Context, bucket daybucket.DayBucket, results map[string]*models.DriftResult, metric *models.DailyMetric, th alerts.Thresholds) ([]models.Alert, error) {
	created, err := p.alerter.Evaluate(ctx, bucket, results, metric, th)
	if err != nil {
		appmetrics.PipelineStageTotal.WithLabelValues("alerts", "error").Inc()
		return nil, err
	}
	appmetrics.PipelineStageTotal.WithLabelValues("alerts", "ok").Inc()
	appmetrics.AlertsCreated.Add(float64(len(created)))
	return created, nil
}

// PullCosts runs the best-effort cost stage for one project. The error is
// returned for logging but callers must not treat it as fatal.
func (p *Pipeline) PullCosts(ctx context.Context, projectID, day string, overwrite bool) (*costs.PullResult, error) {
	if p.puller == nil {
		return nil, nil
	}

	result, err := p.puller.PullAndStore(ctx, projectID, day, overwrite)
	if err != nil {
		appmetrics.PipelineStageTotal.WithLabelValues("costs", "error").Inc()
		return nil, err
	}
	appmetrics.PipelineStageTotal.WithLabelValues("costs", "ok").Inc()

	avg, err := p.store.TrailingAverageTotalCost(ctx, projectID, day, 7)
	if err != nil {
		logger.Warn("Trailing cost average failed", zap.Error(err))
		return result, nil
	}
	if avg != nil {
		_, err = p.alerter.EvaluateCost(ctx, projectID, day, result.Total, *avg, p.thresholds)
		if err != nil {
			logger.Warn("Cost alert evaluation failed", zap.Error(err))
		}
	}

	return result, nil
}

// RunKey runs one full cycle for a bucket: metrics, drift, alerts. Each
// stage's failure is logged and isolated; later stages still run when their
// inputs allow it.
func (p *Pipeline) RunKey(ctx context.Context, bucket daybucket.DayBucket) {
	metric, err := p.ComputeMetrics(ctx, bucket)
	if err != nil {
		logger.Error("Metrics stage failed",
			zap.String("project_id", bucket.Key.ProjectID),
			zap.String("model_id", bucket.Key.ModelID),
			zap.String("endpoint", bucket.Key.Endpoint),
			zap.String("day", bucket.Day),
			zap.Error(err),
		)
	}

	if ctx.Err() != nil {
		return
	}

	hasBaselines, err := p.store.HasBaselines(ctx, bucket.Key)
	if err != nil {
		logger.Error("Baseline precheck failed", zap.Error(err))
		return
	}
	if !hasBaselines {
		logger.Debug("Drift skipped, no baselines",
			zap.String("project_id", bucket.Key.ProjectID),
			zap.String("model_id", bucket.Key.ModelID),
			zap.String("day", bucket.Day),
		)
		return
	}

	results, err := p.ComputeDrift(ctx, bucket)
	if err != nil {
		logger.Error("Drift stage failed",
			zap.String("project_id", bucket.Key.ProjectID),
			zap.String("day", bucket.Day),
			zap.Error(err),
		)
		return
	}

	if ctx.Err() != nil {
		return
	}

	_, err = p.EvaluateAlerts(ctx, bucket, results, metric, p.thresholds)
	if err != nil {
		logger.Error("Alert stage failed",
			zap.String("project_id", bucket.Key.ProjectID),
			zap.String("day", bucket.Day),
			zap.Error(err),
		)
	}
}
