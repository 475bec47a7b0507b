package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/pkg/logger"
)

type Config struct {
	Interval     time.Duration
	DayOffset    int
	TZ           string
	Overwrite    bool
	CycleTimeout time.Duration
}

// Worker runs the pipeline on a fixed cadence across all discovered keys.
// A single key's failure never crashes the loop.
type Worker struct {
	pipeline *Pipeline
	store    DiscoveryStore
	clock    Clock
	cfg      Config
}

func NewWorker(pipeline *Pipeline, store DiscoveryStore, clock Clock, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.TZ == "" {
		cfg.TZ = "UTC"
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 2 * time.Minute
	}
	return &Worker{pipeline: pipeline, store: store, clock: clock, cfg: cfg}
}

// Run blocks until the context is canceled, executing one cycle per interval.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("Worker starting",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("day_offset", w.cfg.DayOffset),
		zap.String("tz", w.cfg.TZ),
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce computes the target day (today in tz minus the offset, so partial
// days are not scored) and runs the pipeline for every discovered key, then
// the best-effort cost stage per project.
func (w *Worker) RunOnce(ctx context.Context) {
	day, err := w.targetDay()
	if err != nil {
		logger.Error("Failed to resolve target day", zap.Error(err))
		return
	}

	keys, err := w.store.DiscoverKeys(ctx)
	if err != nil {
		logger.Error("Key discovery failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		logger.Debug("No events yet, skipping cycle")
		return
	}

	logger.Info("Cycle starting", zap.String("day", day), zap.Int("keys", len(keys)))

	for _, key := range keys {
		cycleCtx, cancel := context.WithTimeout(ctx, w.cfg.CycleTimeout)

		bucket, err := daybucket.Bucket(key, day, w.cfg.TZ)
		if err != nil {
			cancel()
			logger.Error("Failed to resolve bucket", zap.Error(err))
			continue
		}

		w.pipeline.RunKey(cycleCtx, bucket)
		cancel()

		if ctx.Err() != nil {
			return
		}
	}

	// Cost pulls run last and are best-effort by contract: a provider
	// failure must leave the committed metrics/drift/alerts untouched.
	projects, err := w.store.DiscoverProjects(ctx)
	if err != nil {
		logger.Error("Project discovery failed", zap.Error(err))
		return
	}
	for _, project := range projects {
		_, err := w.pipeline.PullCosts(ctx, project, day, w.cfg.Overwrite)
		if err != nil {
			logger.Warn("Cost pull skipped",
				zap.String("project_id", project),
				zap.String("day", day),
				zap.Error(err),
			)
		}
	}
}

func (w *Worker) targetDay() (string, error) {
	loc, err := time.LoadLocation(w.cfg.TZ)
	if err != nil {
		return "", err
	}
	now := w.clock.Now().In(loc)
	return now.AddDate(0, 0, -w.cfg.DayOffset).Format(daybucket.DayFormat), nil
}
