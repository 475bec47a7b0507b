package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

// UpsertDailyMetric atomically replaces the metric row for the bucket.
// Recomputing the same bucket is idempotent by the unique constraint.
func (c *Client) UpsertDailyMetric(ctx context.Context, m *models.DailyMetric) error {
	stats, err := json.Marshal(m.FeatureStats)
	if err != nil {
		return fmt.Errorf("failed to marshal feature stats: %w", err)
	}
	mismatches, err := json.Marshal(m.TypeMismatches)
	if err != nil {
		return fmt.Errorf("failed to marshal type mismatches: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO daily_metrics (project_id, model_id, endpoint, day, tz, n_events,
			latency_p50_ms, latency_p95_ms, y_pred_rate, y_proba_mean,
			feature_stats, type_mismatches, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, model_id, endpoint, day) DO UPDATE SET
			tz = excluded.tz,
			n_events = excluded.n_events,
			latency_p50_ms = excluded.latency_p50_ms,
			latency_p95_ms = excluded.latency_p95_ms,
			y_pred_rate = excluded.y_pred_rate,
			y_proba_mean = excluded.y_proba_mean,
			feature_stats = excluded.feature_stats,
			type_mismatches = excluded.type_mismatches,
			created_at = excluded.created_at
	`,
		m.ProjectID, m.ModelID, m.Endpoint, m.Day, m.TZ, m.NEvents,
		m.LatencyP50MS, m.LatencyP95MS, m.YPredRate, m.YProbaMean,
		string(stats), string(mismatches), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily metric: %w", err)
	}

	return nil
}

// GetDailyMetric returns nil when no metric has been materialized for the bucket.
func (c *Client) GetDailyMetric(ctx context.Context, key models.ModelKey, day string) (*models.DailyMetric, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT project_id, model_id, endpoint, day, tz, n_events,
			latency_p50_ms, latency_p95_ms, y_pred_rate, y_proba_mean,
			feature_stats, type_mismatches, created_at
		FROM daily_metrics
		WHERE project_id = ? AND model_id = ? AND endpoint = ? AND day = ?
	`, key.ProjectID, key.ModelID, key.Endpoint, day)

	var m models.DailyMetric
	var p50, p95, rate, proba sql.NullFloat64
	var stats, mismatches string
	var createdAt int64

	err := row.Scan(&m.ProjectID, &m.ModelID, &m.Endpoint, &m.Day, &m.TZ, &m.NEvents,
		&p50, &p95, &rate, &proba, &stats, &mismatches, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily metric: %w", err)
	}

	if p50.Valid {
		m.LatencyP50MS = &p50.Float64
	}
	if p95.Valid {
		m.LatencyP95MS = &p95.Float64
	}
	if rate.Valid {
		m.YPredRate = &rate.Float64
	}
	if proba.Valid {
		m.YProbaMean = &proba.Float64
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()

	if err := json.Unmarshal([]byte(stats), &m.FeatureStats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature stats: %w", err)
	}
	if err := json.Unmarshal([]byte(mismatches), &m.TypeMismatches); err != nil {
		return nil, fmt.Errorf("failed to unmarshal type mismatches: %w", err)
	}

	return &m, nil
}
