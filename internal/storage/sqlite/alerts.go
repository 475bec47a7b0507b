package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/mlguard/backend/internal/storage/models"
)

// InsertAlertOnce inserts an alert unless one already exists for the dedupe
// key (project, model, endpoint, feature, day, kind). Returns false when the
// unique constraint swallowed the insert.
func (c *Client) InsertAlertOnce(ctx context.Context, a *models.Alert) (bool, error) {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO alerts (id, project_id, model_id, endpoint, feature, day, kind,
			severity, value, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ProjectID, a.ModelID, a.Endpoint, a.Feature, a.Day, string(a.Kind),
		a.Severity, a.Value, a.Threshold, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}

	return true, nil
}

type AlertFilter struct {
	ProjectID string
	ModelID   string
	Endpoint  string
	Kind      string
	Limit     int
}

// ListAlerts returns alerts newest first.
func (c *Client) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `
		SELECT id, project_id, model_id, endpoint, feature, day, kind, severity, value, threshold, created_at
		FROM alerts
		WHERE 1=1
	`
	var args []interface{}

	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if filter.ModelID != "" {
		query += " AND model_id = ?"
		args = append(args, filter.ModelID)
	}
	if filter.Endpoint != "" {
		query += " AND endpoint = ?"
		args = append(args, filter.Endpoint)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var kind string
		var createdAt int64

		err := rows.Scan(&a.ID, &a.ProjectID, &a.ModelID, &a.Endpoint, &a.Feature, &a.Day,
			&kind, &a.Severity, &a.Value, &a.Threshold, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Kind = models.AlertKind(kind)
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}
