package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/JakeFAU/press-digest/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	store *Store
}

// StartRun inserts a running row; repeated starts are ignored.
func (r *RunStore) StartRun(ctx context.Context, id uuid.UUID, trigger string, startedAt time.Time) error {
	ctx, cancel := r.store.callCtx(ctx)
	defer cancel()
	_, err := r.store.db.ExecContext(ctx, `
INSERT INTO pipeline_runs (id, trigger, started_at, status)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`, id.String(), trigger, formatTime(startedAt), string(store.RunRunning))
	return wrapErr("start run", err)
}

// CompleteRun records the terminal state.
func (r *RunStore) CompleteRun(ctx context.Context, id uuid.UUID, done store.RunCompletion) error {
	ctx, cancel := r.store.callCtx(ctx)
	defer cancel()
	res, err := r.store.db.ExecContext(ctx, `
UPDATE pipeline_runs
SET finished_at = ?, status = ?, error_message = ?, ingest_report = ?, enrich_report = ?
WHERE id = ?`,
		formatTime(done.FinishedAt),
		string(done.Status),
		nullString(done.ErrorMessage),
		nullJSON(done.IngestReport),
		nullJSON(done.EnrichReport),
		id.String(),
	)
	if err != nil {
		return wrapErr("complete run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("complete run", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

var runColumns = []string{
	"id", "trigger", "started_at", "finished_at", "status", "error_message", "ingest_report", "enrich_report",
}

// GetRun loads one run.
func (r *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query, args, err := builder.Select(runColumns...).From("pipeline_runs").Where(sq.Eq{"id": id.String()}).ToSql()
	if err != nil {
		return store.Run{}, fmt.Errorf("build run query: %w", err)
	}
	ctx, cancel := r.store.callCtx(ctx)
	defer cancel()
	run, err := scanRun(r.store.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, wrapErr("get run", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (r *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	b := builder.Select(runColumns...).From("pipeline_runs").OrderBy("started_at DESC")
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
	ctx, cancel := r.store.callCtx(ctx)
	defer cancel()
	rows, err := r.store.db.QueryContext(ctx, query, args...)
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
	return runs, wrapErr("list runs", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (store.Run, error) {
	var (
		run                    store.Run
		id, started, status    string
		finished, errMsg       sql.NullString
		ingestJSON, enrichJSON sql.NullString
	)
	if err := row.Scan(&id, &run.Trigger, &started, &finished, &status, &errMsg, &ingestJSON, &enrichJSON); err != nil {
		return store.Run{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.Run{}, fmt.Errorf("parse run id: %w", err)
	}
	run.ID = parsed
	if run.StartedAt, err = parseTime(started); err != nil {
		return store.Run{}, err
	}
	if run.FinishedAt, err = parseNullTime(finished); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	if ingestJSON.Valid {
		run.IngestReport = []byte(ingestJSON.String)
	}
	if enrichJSON.Valid {
		run.EnrichReport = []byte(enrichJSON.String)
	}
	return run, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullJSON(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
