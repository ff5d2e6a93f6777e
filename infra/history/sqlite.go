// Package history persists a record of every training run in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/evrange/core/training"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// SQLiteStore stores run summaries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS training_runs (
        run_id TEXT PRIMARY KEY,
        started_at INTEGER,
        finished_at INTEGER,
        status TEXT,
        config TEXT,
        feature_count INTEGER,
        windows INTEGER,
        epochs INTEGER,
        best_epoch INTEGER,
        best_val_loss REAL,
        test_mse REAL,
        test_rmse_km REAL,
        test_mae_km REAL,
        stop_reason TEXT,
        artifact_dir TEXT,
        error TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// RecordRun inserts the run, replacing a previous record with the same id.
func (s *SQLiteStore) RecordRun(ctx context.Context, r training.RunSummary) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO training_runs (
            run_id, started_at, finished_at, status, config, feature_count, windows,
            epochs, best_epoch, best_val_loss, test_mse, test_rmse_km, test_mae_km,
            stop_reason, artifact_dir, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Status, string(cfg),
		r.FeatureCount, r.Windows, r.Epochs, r.BestEpoch, r.BestValLoss,
		r.TestMSE, r.TestRMSEKm, r.TestMAEKm, r.StopReason, r.ArtifactDir, r.Error)
	return err
}

const selectRuns = `SELECT run_id, started_at, finished_at, status, config, feature_count,
        windows, epochs, best_epoch, best_val_loss, test_mse, test_rmse_km, test_mae_km,
        stop_reason, artifact_dir, error FROM training_runs`

// List returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]training.RunSummary, error) {
	q := selectRuns + ` ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []training.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Get returns a single run.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (training.RunSummary, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (training.RunSummary, error) {
	var (
		r                 training.RunSummary
		started, finished int64
		cfg               string
	)
	err := sc.Scan(&r.RunID, &started, &finished, &r.Status, &cfg, &r.FeatureCount,
		&r.Windows, &r.Epochs, &r.BestEpoch, &r.BestValLoss, &r.TestMSE, &r.TestRMSEKm,
		&r.TestMAEKm, &r.StopReason, &r.ArtifactDir, &r.Error)
	if err != nil {
		return r, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	if err := json.Unmarshal([]byte(cfg), &r.Config); err != nil {
		return r, fmt.Errorf("decode config of run %s: %w", r.RunID, err)
	}
	return r, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
