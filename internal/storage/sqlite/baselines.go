package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

// InsertBaseline stores a captured baseline. When a baseline already exists
// for the feature and overwrite is false, nothing is written and created is
// false. With overwrite the old row is replaced inside one transaction, so
// readers never observe a half-written baseline.
func (c *Client) InsertBaseline(ctx context.Context, b *models.Baseline, overwrite bool) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feature_baselines
		WHERE project_id = ? AND model_id = ? AND endpoint = ? AND feature = ?
	`, b.ProjectID, b.ModelID, b.Endpoint, b.Feature).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing baseline: %w", err)
	}

	if exists > 0 {
		if !overwrite {
			return false, nil
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM feature_baselines
			WHERE project_id = ? AND model_id = ? AND endpoint = ? AND feature = ?
		`, b.ProjectID, b.ModelID, b.Endpoint, b.Feature)
		if err != nil {
			return false, fmt.Errorf("failed to delete old baseline: %w", err)
		}
	}

	var edges, probs, freqs interface{}
	if b.BinEdges != nil {
		data, err := json.Marshal(b.BinEdges)
		if err != nil {
			return false, fmt.Errorf("failed to marshal bin edges: %w", err)
		}
		edges = string(data)
	}
	if b.Probs != nil {
		data, err := json.Marshal(b.Probs)
		if err != nil {
			return false, fmt.Errorf("failed to marshal probs: %w", err)
		}
		probs = string(data)
	}
	if b.Frequencies != nil {
		data, err := json.Marshal(b.Frequencies)
		if err != nil {
			return false, fmt.Errorf("failed to marshal frequencies: %w", err)
		}
		freqs = string(data)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feature_baselines (project_id, model_id, endpoint, feature, feature_type,
			n_baseline, bin_edges, probs, frequencies, captured_from, captured_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ProjectID, b.ModelID, b.Endpoint, b.Feature, string(b.FeatureType),
		b.NBaseline, edges, probs, freqs,
		b.CapturedFrom.UTC().UnixMilli(), b.CapturedTo.UTC().UnixMilli(),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert baseline: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit baseline: %w", err)
	}

	return true, nil
}

// GetBaseline returns nil when no baseline has been captured for the feature.
func (c *Client) GetBaseline(ctx context.Context, key models.ModelKey, feature string) (*models.Baseline, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT project_id, model_id, endpoint, feature, feature_type, n_baseline,
			bin_edges, probs, frequencies, captured_from, captured_to, created_at
		FROM feature_baselines
		WHERE project_id = ? AND model_id = ? AND endpoint = ? AND feature = ?
	`, key.ProjectID, key.ModelID, key.Endpoint, feature)

	b, err := scanBaseline(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	return b, nil
}

func (c *Client) ListBaselines(ctx context.Context, key models.ModelKey) ([]models.Baseline, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT project_id, model_id, endpoint, feature, feature_type, n_baseline,
			bin_edges, probs, frequencies, captured_from, captured_to, created_at
		FROM feature_baselines
		WHERE project_id = ? AND model_id = ? AND endpoint = ?
		ORDER BY feature
	`, key.ProjectID, key.ModelID, key.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	var baselines []models.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, *b)
	}

	return baselines, rows.Err()
}

func (c *Client) HasBaselines(ctx context.Context, key models.ModelKey) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feature_baselines
		WHERE project_id = ? AND model_id = ? AND endpoint = ?
	`, key.ProjectID, key.ModelID, key.Endpoint).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count baselines: %w", err)
	}
	return n > 0, nil
}

func scanBaseline(scan func(...interface{}) error) (*models.Baseline, error) {
	var b models.Baseline
	var featureType string
	var edges, probs, freqs sql.NullString
	var from, to, createdAt int64

	err := scan(&b.ProjectID, &b.ModelID, &b.Endpoint, &b.Feature, &featureType, &b.NBaseline,
		&edges, &probs, &freqs, &from, &to, &createdAt)
	if err != nil {
		return nil, err
	}

	b.FeatureType = models.FeatureKind(featureType)
	b.CapturedFrom = time.UnixMilli(from).UTC()
	b.CapturedTo = time.UnixMilli(to).UTC()
	b.CreatedAt = time.UnixMilli(createdAt).UTC()

	if edges.Valid {
		if err := json.Unmarshal([]byte(edges.String), &b.BinEdges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bin edges: %w", err)
		}
	}
	if probs.Valid {
		if err := json.Unmarshal([]byte(probs.String), &b.Probs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal probs: %w", err)
		}
	}
	if freqs.Valid {
		if err := json.Unmarshal([]byte(freqs.String), &b.Frequencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal frequencies: %w", err)
		}
	}

	return &b, nil
}
