package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mlguard/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Serialize writers at the driver level; idempotence still rests on the
	// unique constraints below.
	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		latency_ms INTEGER,
		y_pred INTEGER,
		y_proba REAL,
		features TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_key_ts ON events(project_id, model_id, endpoint, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id);

	CREATE TABLE IF NOT EXISTS daily_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		day TEXT NOT NULL,
		tz TEXT NOT NULL,
		n_events INTEGER NOT NULL,
		latency_p50_ms REAL,
		latency_p95_ms REAL,
		y_pred_rate REAL,
		y_proba_mean REAL,
		feature_stats TEXT NOT NULL,
		type_mismatches TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(project_id, model_id, endpoint, day)
	);

	CREATE TABLE IF NOT EXISTS feature_baselines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		feature TEXT NOT NULL,
		feature_type TEXT NOT NULL,
		n_baseline INTEGER NOT NULL,
		bin_edges TEXT,
		probs TEXT,
		frequencies TEXT,
		captured_from INTEGER NOT NULL,
		captured_to INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(project_id, model_id, endpoint, feature)
	);

	CREATE TABLE IF NOT EXISTS daily_drift (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		day TEXT NOT NULL,
		feature TEXT NOT NULL,
		status TEXT NOT NULL,
		score REAL,
		severity TEXT NOT NULL,
		kind TEXT NOT NULL,
		n INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(project_id, model_id, endpoint, day, feature)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		feature TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		value REAL NOT NULL,
		threshold REAL NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(project_id, model_id, endpoint, feature, day, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_project_created ON alerts(project_id, created_at);

	CREATE TABLE IF NOT EXISTS daily_costs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		day TEXT NOT NULL,
		service TEXT NOT NULL,
		amount REAL NOT NULL,
		unit TEXT NOT NULL DEFAULT 'USD',
		created_at INTEGER NOT NULL,
		UNIQUE(project_id, day, service)
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}
