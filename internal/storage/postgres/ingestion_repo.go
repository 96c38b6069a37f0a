package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/marketfeed/internal/storage"
)

type ingestionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewIngestionRepo creates the PostgreSQL ingestion bookkeeping repository.
func NewIngestionRepo(db *sqlx.DB, timeout time.Duration) storage.IngestionRepo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ingestionRepo{db: db, timeout: timeout}
}

// Cursor returns the stored high-water mark for a source, zero when the
// source has never run.
func (r *ingestionRepo) Cursor(ctx context.Context, source string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var at time.Time
	err := r.db.QueryRowxContext(ctx,
		`SELECT cursor_at FROM ingestion_cursors WHERE source = $1`, source).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load cursor for %s: %w", source, err)
	}
	return at, nil
}

func (r *ingestionRepo) SetCursor(ctx context.Context, source string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingestion_cursors (source, cursor_at, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source) DO UPDATE SET cursor_at = EXCLUDED.cursor_at, updated_at = now()`,
		source, at)
	if err != nil {
		return fmt.Errorf("store cursor for %s: %w", source, err)
	}
	return nil
}

func (r *ingestionRepo) StartRun(ctx context.Context, source string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO ingestion_runs (source) VALUES ($1) RETURNING id`, source).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start run for %s: %w", source, err)
	}
	return id, nil
}

func (r *ingestionRepo) FinishRun(ctx context.Context, runID int64, stats storage.RunStats, runErr error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	var errText interface{}
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET finished_at = now(), stats_json = $1, error = $2
		WHERE id = $3`, statsJSON, errText, runID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}
