// Package drift captures feature baselines and scores distribution shift
// against them.
package drift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/pkg/logger"
)

var (
	ErrEmptyWindow    = errors.New("no events in baseline window")
	ErrBaselineExists = errors.New("baseline already exists")
	ErrInvalidWindow  = errors.New("baseline window start must precede end")
)

type Store interface {
	EventsInRange(ctx context.Context, key models.ModelKey, start, end time.Time) ([]models.Event, error)
	InsertBaseline(ctx context.Context, b *models.Baseline, overwrite bool) (bool, error)
	GetBaseline(ctx context.Context, key models.ModelKey, feature string) (*models.Baseline, error)
	ListBaselines(ctx context.Context, key models.ModelKey) ([]models.Baseline, error)
	UpsertDriftResult(ctx context.Context, r *models.DriftResult) error
}

type Config struct {
	Bins       int
	MinSamples int
}

type Engine struct {
	store Store
	cfg   Config
}

func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Bins <= 0 {
		cfg.Bins = 10
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	return &Engine{store: store, cfg: cfg}
}

// CaptureBaseline builds a reference distribution for a feature from events
// in the absolute UTC window [from, to). The window is deliberately not
// day-bucketed so operators can reference exact training windows.
func (e *Engine) CaptureBaseline(ctx context.Context, key models.ModelKey, feature string, from, to time.Time, overwrite bool) (*models.Baseline, error) {
	if !from.Before(to) {
		return nil, ErrInvalidWindow
	}

	events, err := e.store.EventsInRange(ctx, key, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline events: %w", err)
	}

	numeric, categorical := featureValues(events, feature)
	if len(numeric) == 0 && len(categorical) == 0 {
		return nil, ErrEmptyWindow
	}

	baseline := &models.Baseline{
		ProjectID:    key.ProjectID,
		ModelID:      key.ModelID,
		Endpoint:     key.Endpoint,
		Feature:      feature,
		CapturedFrom: from.UTC(),
		CapturedTo:   to.UTC(),
	}

	// Majority type wins; equal-width bins over the baseline sample for
	// numeric features, normalized frequencies for categorical ones.
	if len(numeric) >= len(categorical) {
		edges := makeBins(numeric, e.cfg.Bins)
		baseline.FeatureType = models.KindNumeric
		baseline.NBaseline = len(numeric)
		baseline.BinEdges = edges
		baseline.Probs = histProbs(numeric, edges)
	} else {
		baseline.FeatureType = models.KindCategorical
		baseline.NBaseline = len(categorical)
		baseline.Frequencies = freqMap(categorical)
	}

	created, err := e.store.InsertBaseline(ctx, baseline, overwrite)
	if err != nil {
		return nil, fmt.Errorf("failed to store baseline: %w", err)
	}
	if !created {
		return nil, ErrBaselineExists
	}

	logger.Info("Baseline captured",
		zap.String("project_id", key.ProjectID),
		zap.String("model_id", key.ModelID),
		zap.String("feature", feature),
		zap.String("type", string(baseline.FeatureType)),
		zap.Int("n", baseline.NBaseline),
	)

	return baseline, nil
}

func featureValues(events []models.Event, feature string) ([]float64, []string) {
	var numeric []float64
	var categorical []string
	for _, e := range events {
		v, ok := e.Features[feature]
		if !ok {
			continue
		}
		if v.Kind == models.KindNumeric {
			numeric = append(numeric, v.Num)
		} else {
			categorical = append(categorical, v.Cat)
		}
	}
	return numeric, categorical
}

// makeBins returns n+1 equal-width edges spanning the sample. A degenerate
// single-value sample is widened by 0.5 on each side.
func makeBins(values []float64, n int) []float64 {
	vmin, vmax := values[0], values[0]
	for _, v := range values {
		if v < vmin {
			vmin = v
		}
		if v > vmax {
			vmax = v
		}
	}
	if vmin == vmax {
		vmin -= 0.5
		vmax += 0.5
	}

	width := (vmax - vmin) / float64(n)
	edges := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		edges = append(edges, vmin+float64(i)*width)
	}
	edges = append(edges, vmax)
	return edges
}

// histProbs bins values into the fixed edges and normalizes the counts.
// Out-of-range values clamp into the first or last bin.
func histProbs(values []float64, edges []float64) []float64 {
	nBins := len(edges) - 1
	counts := make([]int, nBins)

	for _, x := range values {
		switch {
		case x < edges[0]:
			counts[0]++
		case x >= edges[nBins]:
			counts[nBins-1]++
		default:
			for i := 0; i < nBins; i++ {
				if x >= edges[i] && (x < edges[i+1] || i == nBins-1) {
					counts[i]++
					break
				}
			}
		}
	}

	probs := make([]float64, nBins)
	total := float64(len(values))
	if total == 0 {
		return probs
	}
	for i, c := range counts {
		probs[i] = float64(c) / total
	}
	return probs
}

func freqMap(values []string) map[string]float64 {
	counts := map[string]int{}
	for _, v := range values {
		counts[v]++
	}
	freqs := make(map[string]float64, len(counts))
	total := float64(len(values))
	for cat, n := range counts {
		freqs[cat] = float64(n) / total
	}
	return freqs
}
