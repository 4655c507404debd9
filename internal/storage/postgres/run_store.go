package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/press-digest/internal/store"
)

// RunStore implements store.RunRepository on raw_data.pipeline_runs.
type RunStore struct {
	pool    Pool
	timeout time.Duration
}

// NewRunStore wraps an open pool.
func NewRunStore(pool Pool, queryTimeout time.Duration) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool, timeout: timeoutOrDefault(queryTimeout)}, nil
}

// StartRun inserts a running row; a repeated start is ignored.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, trigger string, startedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO raw_data.pipeline_runs (id, trigger, started_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, id, trigger, startedAt, string(store.RunRunning))
	return wrapErr("start run", err)
}

// CompleteRun records the terminal state of a run.
func (s *RunStore) CompleteRun(ctx context.Context, id uuid.UUID, done store.RunCompletion) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE raw_data.pipeline_runs
SET finished_at = $1, status = $2, error_message = $3, ingest_report = $4, enrich_report = $5
WHERE id = $6`,
		done.FinishedAt,
		string(done.Status),
		nullableString(done.ErrorMessage),
		nullableJSON(done.IngestReport),
		nullableJSON(done.EnrichReport),
		id,
	)
	if err != nil {
		return wrapErr("complete run", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

var runColumns = []string{
	"id", "trigger", "started_at", "finished_at", "status", "error_message", "ingest_report", "enrich_report",
}

// GetRun loads a single run.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query, args, err := psql.Select(runColumns...).
		From("raw_data.pipeline_runs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return store.Run{}, fmt.Errorf("build run query: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, wrapErr("get run", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	b := psql.Select(runColumns...).
		From("raw_data.pipeline_runs").
		OrderBy("started_at DESC")
	if status != nil {
		b = b.Where(sq.Eq{"status": string(*status)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build runs query: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list runs", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, wrapErr("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list runs", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
		ingest []byte
		enrich []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.Trigger,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&ingest,
		&enrich,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	run.IngestReport = ingest
	run.EnrichReport = enrich
	return run, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
