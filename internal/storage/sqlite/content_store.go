package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/press-digest/internal/digest"
)

// ContentStore implements digest.ContentStore and digest.ReadStore.
type ContentStore struct {
	store *Store
}

// EnsureSchema creates all tables and indexes when missing.
func (c *ContentStore) EnsureSchema(ctx context.Context) error {
	return c.store.ensureSchema(ctx)
}

// Ping checks the database handle.
func (c *ContentStore) Ping(ctx context.Context) error {
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()
	return wrapErr("ping", c.store.db.PingContext(ctx))
}

// FilterKnown looks hashes up with a single IN query.
func (c *ContentStore) FilterKnown(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(hashes) == 0 {
		return known, nil
	}
	query, args, err := builder.Select("url_hash").
		From("press_releases").
		Where(sq.Eq{"url_hash": hashes}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build filter query: %w", err)
	}
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()
	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("filter known", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, wrapErr("scan known hash", err)
		}
		known[h] = struct{}{}
	}
	return known, wrapErr("filter known", rows.Err())
}

// InsertItemIfAbsent inserts keyed on url.
func (c *ContentStore) InsertItemIfAbsent(ctx context.Context, item digest.SourceItem) (int64, bool, error) {
	raw, err := json.Marshal(item.RawMetadata)
	if err != nil {
		return 0, false, fmt.Errorf("marshal raw metadata: %w", err)
	}
	now := c.store.now()
	created := item.CreatedAt
	if created.IsZero() {
		created = now
	}
	fetched := item.FetchedAt
	if fetched.IsZero() {
		fetched = now
	}
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()

	var id int64
	err = c.store.db.QueryRowContext(ctx, `
INSERT INTO press_releases (url, url_hash, title, content, published_at, raw_response, scraped_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (url) DO NOTHING
RETURNING id`,
		item.Locator,
		item.IdentityHash,
		item.Title,
		item.Body,
		formatTimePtr(item.PublishedAt),
		string(raw),
		formatTime(fetched),
		formatTime(created),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("insert item", err)
	}
	return id, true, nil
}

// ListUnsummarized returns items without a summary, newest first.
func (c *ContentStore) ListUnsummarized(ctx context.Context) ([]digest.UnsummarizedItem, error) {
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()
	rows, err := c.store.db.QueryContext(ctx, `
SELECT pr.id, COALESCE(pr.title, ''), COALESCE(pr.content, '')
FROM press_releases pr
LEFT JOIN press_release_summary prs ON prs.press_release_id = pr.id
WHERE prs.id IS NULL
ORDER BY pr.created_at DESC, pr.id DESC`)
	if err != nil {
		return nil, wrapErr("list unsummarized", err)
	}
	defer rows.Close()
	var out []digest.UnsummarizedItem
	for rows.Next() {
		var it digest.UnsummarizedItem
		if err := rows.Scan(&it.ID, &it.Title, &it.Body); err != nil {
			return nil, wrapErr("scan unsummarized", err)
		}
		out = append(out, it)
	}
	return out, wrapErr("list unsummarized", rows.Err())
}

// InsertSummaryIfAbsent inserts keyed on press_release_id.
func (c *ContentStore) InsertSummaryIfAbsent(ctx context.Context, itemID int64, summary digest.Summary) (bool, error) {
	points, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		return false, fmt.Errorf("marshal key points: %w", err)
	}
	now := c.store.now()
	at := summary.SummarizedAt
	if at.IsZero() {
		at = now
	}
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()

	var id int64
	err = c.store.db.QueryRowContext(ctx, `
INSERT INTO press_release_summary (press_release_id, summary, bullet_points, word_count, model_used, summarized_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (press_release_id) DO NOTHING
RETURNING id`,
		itemID,
		summary.SummaryText,
		string(points),
		summary.PointCount,
		summary.BackendUsed,
		formatTime(at),
		formatTime(now),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("insert summary", err)
	}
	return true, nil
}

func (c *ContentStore) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()
	var n int64
	if err := c.store.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrapErr(op, err)
	}
	return n, nil
}

// CountAll counts items.
func (c *ContentStore) CountAll(ctx context.Context) (int64, error) {
	return c.count(ctx, "count items", `SELECT COUNT(*) FROM press_releases`)
}

// CountSummarized counts summaries.
func (c *ContentStore) CountSummarized(ctx context.Context) (int64, error) {
	return c.count(ctx, "count summaries", `SELECT COUNT(*) FROM press_release_summary`)
}

// CountPublishedSince counts items published at or after since.
func (c *ContentStore) CountPublishedSince(ctx context.Context, since time.Time) (int64, error) {
	return c.count(ctx, "count recent",
		`SELECT COUNT(*) FROM press_releases WHERE published_at >= ?`, formatTime(since))
}

// Stats aggregates counts and date bounds.
func (c *ContentStore) Stats(ctx context.Context) (digest.StoreStats, error) {
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()
	var (
		st                     digest.StoreStats
		oldest, newest, latest sql.NullString
	)
	err := c.store.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	(SELECT COUNT(*) FROM press_release_summary),
	MIN(published_at),
	MAX(published_at),
	MAX(scraped_at)
FROM press_releases`).Scan(&st.TotalItems, &st.TotalSummarized, &oldest, &newest, &latest)
	if err != nil {
		return digest.StoreStats{}, wrapErr("stats", err)
	}
	if st.OldestPublished, err = parseNullTime(oldest); err != nil {
		return digest.StoreStats{}, err
	}
	if st.NewestPublished, err = parseNullTime(newest); err != nil {
		return digest.StoreStats{}, err
	}
	if st.LastFetched, err = parseNullTime(latest); err != nil {
		return digest.StoreStats{}, err
	}
	return st, nil
}

// ListRecent returns items joined with summaries, undated items last.
func (c *ContentStore) ListRecent(ctx context.Context, limit int) ([]digest.RecentItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	query, args, err := builder.
		Select("pr.url", "COALESCE(pr.title, '')", "pr.published_at", "pr.created_at",
			"COALESCE(prs.summary, '')", "prs.bullet_points").
		From("press_releases pr").
		LeftJoin("press_release_summary prs ON prs.press_release_id = pr.id").
		OrderBy("pr.published_at DESC NULLS LAST", "pr.created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}
	ctx, cancel := c.store.callCtx(ctx)
	defer cancel()
	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list recent", err)
	}
	defer rows.Close()

	var out []digest.RecentItem
	for rows.Next() {
		var (
			it        digest.RecentItem
			published sql.NullString
			created   string
			points    sql.NullString
		)
		if err := rows.Scan(&it.Locator, &it.Title, &published, &created, &it.SummaryText, &points); err != nil {
			return nil, wrapErr("scan recent", err)
		}
		// Rows with unreadable dates are still listed; the API defaults them.
		it.PublishedAt, _ = parseNullTime(published)
		it.CreatedAt, _ = parseTime(created)
		if points.Valid {
			var kp []string
			if json.Unmarshal([]byte(points.String), &kp) == nil {
				it.KeyPoints = kp
			}
		}
		out = append(out, it)
	}
	return out, wrapErr("list recent", rows.Err())
}
