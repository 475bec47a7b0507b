package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

// UpsertDriftResult replaces the stored result for (bucket, feature).
func (c *Client) UpsertDriftResult(ctx context.Context, r *models.DriftResult) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO daily_drift (project_id, model_id, endpoint, day, feature,
			status, score, severity, kind, n, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, model_id, endpoint, day, feature) DO UPDATE SET
			status = excluded.status,
			score = excluded.score,
			severity = excluded.severity,
			kind = excluded.kind,
			n = excluded.n,
			created_at = excluded.created_at
	`,
		r.ProjectID, r.ModelID, r.Endpoint, r.Day, r.Feature,
		string(r.Status), r.Score, r.Severity, string(r.Kind), r.N,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert drift result: %w", err)
	}

	return nil
}

func (c *Client) GetDriftResults(ctx context.Context, key models.ModelKey, day string) ([]models.DriftResult, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT project_id, model_id, endpoint, day, feature, status, score, severity, kind, n
		FROM daily_drift
		WHERE project_id = ? AND model_id = ? AND endpoint = ? AND day = ?
		ORDER BY feature
	`, key.ProjectID, key.ModelID, key.Endpoint, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query drift results: %w", err)
	}
	defer rows.Close()

	var results []models.DriftResult
	for rows.Next() {
		var r models.DriftResult
		var status, kind string
		var score sql.NullFloat64

		err := rows.Scan(&r.ProjectID, &r.ModelID, &r.Endpoint, &r.Day, &r.Feature,
			&status, &score, &r.Severity, &kind, &r.N)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drift result: %w", err)
		}

		r.Status = models.DriftStatus(status)
		r.Kind = models.FeatureKind(kind)
		if score.Valid {
			r.Score = &score.Float64
		}

		results = append(results, r)
	}

	return results, rows.Err()
}
