package drift

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/storage/models"
)

// Epsilon is the zero-frequency smoothing floor applied to both the expected
// and the actual proportion before the log term. It is part of the scoring
// contract: changing it changes reproducible scores.
const Epsilon = 1e-6

// Severity boundaries on the PSI scale.
const (
	SeverityOK    = "OK"
	SeverityWarn  = "WARN"
	SeverityAlert = "ALERT"

	warnThreshold  = 0.10
	alertThreshold = 0.25
)

func ClassifySeverity(score float64) string {
	if score < warnThreshold {
		return SeverityOK
	}
	if score < alertThreshold {
		return SeverityWarn
	}
	return SeverityAlert
}

// Evaluate scores one feature's day distribution against its baseline.
// A missing baseline and an undersampled day are first-class statuses, not
// errors. The baseline is read once and never mutated.
func (e *Engine) Evaluate(ctx context.Context, bucket daybucket.DayBucket, feature string) (*models.DriftResult, error) {
	baseline, err := e.store.GetBaseline(ctx, bucket.Key, feature)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline: %w", err)
	}

	events, err := e.store.EventsInRange(ctx, bucket.Key, bucket.StartUTC, bucket.EndUTC)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	result := e.evaluate(bucket, feature, baseline, events)

	if err := e.store.UpsertDriftResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store drift result: %w", err)
	}

	return result, nil
}

// EvaluateAll scores every feature that is either baselined or observed in
// the bucket, so features without a baseline surface as missing_baseline
// instead of being silently skipped.
func (e *Engine) EvaluateAll(ctx context.Context, bucket daybucket.DayBucket) (map[string]*models.DriftResult, error) {
	baselines, err := e.store.ListBaselines(ctx, bucket.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}

	events, err := e.store.EventsInRange(ctx, bucket.Key, bucket.StartUTC, bucket.EndUTC)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	features := map[string]*models.Baseline{}
	for i := range baselines {
		features[baselines[i].Feature] = &baselines[i]
	}
	for _, ev := range events {
		for name := range ev.Features {
			if _, ok := features[name]; !ok {
				features[name] = nil
			}
		}
	}

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]*models.DriftResult, len(names))
	for _, name := range names {
		result := e.evaluate(bucket, name, features[name], events)
		if err := e.store.UpsertDriftResult(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to store drift result: %w", err)
		}
		results[name] = result
	}

	return results, nil
}

func (e *Engine) evaluate(bucket daybucket.DayBucket, feature string, baseline *models.Baseline, events []models.Event) *models.DriftResult {
	result := &models.DriftResult{
		ProjectID: bucket.Key.ProjectID,
		ModelID:   bucket.Key.ModelID,
		Endpoint:  bucket.Key.Endpoint,
		Day:       bucket.Day,
		Feature:   feature,
	}

	if baseline == nil {
		result.Status = models.DriftMissingBaseline
		return result
	}
	result.Kind = baseline.FeatureType

	numeric, categorical := featureValues(events, feature)

	var score float64
	if baseline.FeatureType == models.KindNumeric {
		result.N = len(numeric)
		if len(numeric) < e.cfg.MinSamples {
			result.Status = models.DriftInsufficientData
			return result
		}
		actual := histProbs(numeric, baseline.BinEdges)
		score = psi(baseline.Probs, actual)
	} else {
		result.N = len(categorical)
		if len(categorical) < e.cfg.MinSamples {
			result.Status = models.DriftInsufficientData
			return result
		}
		actual := freqMap(categorical)
		score = categoricalDivergence(baseline.Frequencies, actual)
	}

	result.Status = models.DriftOK
	result.Score = &score
	result.Severity = ClassifySeverity(score)
	return result
}

// psi computes sum((a - e) * ln(a/e)) over bins with epsilon smoothing.
func psi(expected, actual []float64) float64 {
	total := 0.0
	for i := range expected {
		ev := math.Max(expected[i], Epsilon)
		av := math.Max(actual[i], Epsilon)
		total += (av - ev) * math.Log(av/ev)
	}
	return total
}

// categoricalDivergence applies the PSI formula over the union of baseline
// and current categories. Categories absent on either side contribute via the
// epsilon floor. Summation runs in sorted label order so the floating-point
// result is deterministic.
func categoricalDivergence(expected, actual map[string]float64) float64 {
	union := make([]string, 0, len(expected)+len(actual))
	seen := map[string]bool{}
	for cat := range expected {
		union = append(union, cat)
		seen[cat] = true
	}
	for cat := range actual {
		if !seen[cat] {
			union = append(union, cat)
		}
	}
	sort.Strings(union)

	total := 0.0
	for _, cat := range union {
		ev := math.Max(expected[cat], Epsilon)
		av := math.Max(actual[cat], Epsilon)
		total += (av - ev) * math.Log(av/ev)
	}
	return total
}
