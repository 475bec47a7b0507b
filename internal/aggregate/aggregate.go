// Package aggregate computes the per-day metric rollup for one bucket.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/pkg/logger"
)

type EventReader interface {
	EventsInRange(ctx context.Context, key models.ModelKey, start, end time.Time) ([]models.Event, error)
}

type MetricWriter interface {
	UpsertDailyMetric(ctx context.Context, m *models.DailyMetric) error
}

type Store interface {
	EventReader
	MetricWriter
}

type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Compute builds the DailyMetric for a bucket and upserts it. A bucket with
// no events yields n_events=0 and empty stats, not an error. Recomputing the
// same bucket overwrites the previous row.
func (a *Aggregator) Compute(ctx context.Context, bucket daybucket.DayBucket) (*models.DailyMetric, error) {
	events, err := a.store.EventsInRange(ctx, bucket.Key, bucket.StartUTC, bucket.EndUTC)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	metric := buildMetric(bucket, events)

	if err := a.store.UpsertDailyMetric(ctx, metric); err != nil {
		return nil, fmt.Errorf("failed to store daily metric: %w", err)
	}

	logger.Debug("Daily metric computed",
		zap.String("project_id", bucket.Key.ProjectID),
		zap.String("model_id", bucket.Key.ModelID),
		zap.String("day", bucket.Day),
		zap.Int("n_events", metric.NEvents),
	)

	return metric, nil
}

func buildMetric(bucket daybucket.DayBucket, events []models.Event) *models.DailyMetric {
	metric := &models.DailyMetric{
		ProjectID:      bucket.Key.ProjectID,
		ModelID:        bucket.Key.ModelID,
		Endpoint:       bucket.Key.Endpoint,
		Day:            bucket.Day,
		TZ:             bucket.TZ,
		NEvents:        len(events),
		FeatureStats:   map[string]models.FeatureStat{},
		TypeMismatches: map[string]int{},
	}

	var latencies, probas []float64
	var preds []float64
	for _, e := range events {
		if e.LatencyMS != nil {
			latencies = append(latencies, float64(*e.LatencyMS))
		}
		if e.YPred != nil {
			preds = append(preds, float64(*e.YPred))
		}
		if e.YProba != nil {
			probas = append(probas, *e.YProba)
		}
	}

	metric.LatencyP50MS = percentile(latencies, 50)
	metric.LatencyP95MS = percentile(latencies, 95)
	metric.YPredRate = mean(preds)
	metric.YProbaMean = mean(probas)

	// A feature's kind is fixed by its first observed value in the bucket.
	// Values of the other kind are counted as data-quality mismatches and
	// excluded from the stats.
	kinds := map[string]models.FeatureKind{}
	numericVals := map[string][]float64{}
	catCounts := map[string]map[string]int{}
	catTotals := map[string]int{}

	for _, e := range events {
		for name, v := range e.Features {
			kind, seen := kinds[name]
			if !seen {
				kind = v.Kind
				kinds[name] = kind
			}
			if v.Kind != kind {
				metric.TypeMismatches[name]++
				continue
			}
			if kind == models.KindNumeric {
				numericVals[name] = append(numericVals[name], v.Num)
			} else {
				if catCounts[name] == nil {
					catCounts[name] = map[string]int{}
				}
				catCounts[name][v.Cat]++
				catTotals[name]++
			}
		}
	}

	for name, vals := range numericVals {
		m, std := meanStd(vals)
		metric.FeatureStats[name] = models.FeatureStat{
			Kind: models.KindNumeric,
			Mean: m,
			Std:  std,
			N:    len(vals),
		}
	}
	for name, counts := range catCounts {
		freqs := make(map[string]float64, len(counts))
		total := float64(catTotals[name])
		for cat, n := range counts {
			freqs[cat] = float64(n) / total
		}
		metric.FeatureStats[name] = models.FeatureStat{
			Kind:        models.KindCategorical,
			Frequencies: freqs,
			N:           catTotals[name],
		}
	}

	return metric
}

// percentile interpolates linearly between the closest ranks of the sorted
// sample, so results are reproducible for a fixed event set. Returns nil for
// an empty sample.
func percentile(values []float64, p float64) *float64 {
	if len(values) == 0 {
		return nil
	}

	vals := make([]float64, len(values))
	copy(vals, values)
	sort.Float64s(vals)

	if len(vals) == 1 {
		return &vals[0]
	}

	k := float64(len(vals)-1) * (p / 100.0)
	f := int(math.Floor(k))
	c := f + 1
	if c > len(vals)-1 {
		c = len(vals) - 1
	}
	if f == c {
		return &vals[f]
	}

	v := vals[f]*(float64(c)-k) + vals[c]*(k-float64(f))
	return &v
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

// meanStd returns the mean and population standard deviation. std is 0 when
// n=1 or all values are equal.
func meanStd(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(values))

	return m, math.Sqrt(variance)
}
