package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

func (c *Client) InsertEvents(ctx context.Context, events []models.Event) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, project_id, model_id, endpoint, timestamp, latency_ms, y_pred, y_proba, features, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for _, e := range events {
		features, err := json.Marshal(e.Features)
		if err != nil {
			return fmt.Errorf("failed to marshal features: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			e.ID,
			e.ProjectID,
			e.ModelID,
			e.Endpoint,
			e.Timestamp.UTC().UnixMilli(),
			e.LatencyMS,
			e.YPred,
			e.YProba,
			string(features),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// EventsInRange returns events for a key with timestamp in [start, end).
func (c *Client) EventsInRange(ctx context.Context, key models.ModelKey, start, end time.Time) ([]models.Event, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, project_id, model_id, endpoint, timestamp, latency_ms, y_pred, y_proba, features
		FROM events
		WHERE project_id = ? AND model_id = ? AND endpoint = ?
		  AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`, key.ProjectID, key.ModelID, key.Endpoint, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var ts int64
		var latency, yPred sql.NullInt64
		var yProba sql.NullFloat64
		var features string

		err := rows.Scan(&e.ID, &e.ProjectID, &e.ModelID, &e.Endpoint, &ts, &latency, &yPred, &yProba, &features)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.Timestamp = time.UnixMilli(ts).UTC()
		if latency.Valid {
			v := latency.Int64
			e.LatencyMS = &v
		}
		if yPred.Valid {
			v := yPred.Int64
			e.YPred = &v
		}
		if yProba.Valid {
			v := yProba.Float64
			e.YProba = &v
		}

		err = json.Unmarshal([]byte(features), &e.Features)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// DiscoverKeys returns the distinct (project, model, endpoint) keys seen in events.
func (c *Client) DiscoverKeys(ctx context.Context) ([]models.ModelKey, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT project_id, model_id, endpoint
		FROM events
		ORDER BY project_id, model_id, endpoint
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to discover keys: %w", err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

func (c *Client) DiscoverModels(ctx context.Context, projectID string) ([]models.ModelKey, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT project_id, model_id, endpoint
		FROM events
		WHERE project_id = ?
		ORDER BY model_id, endpoint
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover models: %w", err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

func (c *Client) DiscoverProjects(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM events ORDER BY project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to discover projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

// DiscoverDays returns the distinct UTC dates that hold events for a key.
func (c *Client) DiscoverDays(ctx context.Context, key models.ModelKey) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT date(timestamp / 1000, 'unixepoch') AS day
		FROM events
		WHERE project_id = ? AND model_id = ? AND endpoint = ?
		ORDER BY day
	`, key.ProjectID, key.ModelID, key.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to discover days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, d)
	}

	return days, rows.Err()
}

func scanKeys(rows *sql.Rows) ([]models.ModelKey, error) {
	var keys []models.ModelKey
	for rows.Next() {
		var k models.ModelKey
		if err := rows.Scan(&k.ProjectID, &k.ModelID, &k.Endpoint); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
