package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/press-digest/internal/digest"
)

const (
	itemsTable     = "raw_data.press_releases"
	summariesTable = "raw_data.press_release_summary"
)

// ContentStore persists items and summaries in the raw_data schema.
type ContentStore struct {
	pool    Pool
	timeout time.Duration
}

// NewContentStore wraps an open pool. queryTimeout bounds every call.
func NewContentStore(pool Pool, queryTimeout time.Duration) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ContentStore{pool: pool, timeout: timeoutOrDefault(queryTimeout)}, nil
}

// Close releases the underlying pool.
func (s *ContentStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *ContentStore) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureSchema creates the schema, tables and indexes when missing.
func (s *ContentStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return wrapErr("ensure schema", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *ContentStore) Ping(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	return wrapErr("ping", s.pool.Ping(ctx))
}

// FilterKnown returns the subset of hashes present in a single round trip.
func (s *ContentStore) FilterKnown(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(hashes) == 0 {
		return known, nil
	}
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT url_hash FROM raw_data.press_releases WHERE url_hash = ANY($1)`, hashes)
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
	if err := rows.Err(); err != nil {
		return nil, wrapErr("filter known", err)
	}
	return known, nil
}

// InsertItemIfAbsent inserts keyed on url; inserted is false on conflict.
func (s *ContentStore) InsertItemIfAbsent(ctx context.Context, item digest.SourceItem) (int64, bool, error) {
	raw, err := json.Marshal(item.RawMetadata)
	if err != nil {
		return 0, false, fmt.Errorf("marshal raw metadata: %w", err)
	}
	fetchedAt := item.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO raw_data.press_releases (url, url_hash, title, content, published_at, raw_response, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (url) DO NOTHING
RETURNING id`,
		item.Locator,
		item.IdentityHash,
		item.Title,
		item.Body,
		item.PublishedAt,
		raw,
		fetchedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("insert item", err)
	}
	return id, true, nil
}

// ListUnsummarized returns items with no summary row, newest first.
func (s *ContentStore) ListUnsummarized(ctx context.Context) ([]digest.UnsummarizedItem, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT pr.id, COALESCE(pr.title, ''), COALESCE(pr.content, '')
FROM raw_data.press_releases pr
LEFT JOIN raw_data.press_release_summary prs ON prs.press_release_id = pr.id
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
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list unsummarized", err)
	}
	return out, nil
}

// InsertSummaryIfAbsent inserts keyed on press_release_id.
func (s *ContentStore) InsertSummaryIfAbsent(ctx context.Context, itemID int64, summary digest.Summary) (bool, error) {
	points, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		return false, fmt.Errorf("marshal key points: %w", err)
	}
	at := summary.SummarizedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO raw_data.press_release_summary (press_release_id, summary, bullet_points, word_count, model_used, summarized_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (press_release_id) DO NOTHING
RETURNING id`,
		itemID,
		summary.SummaryText,
		points,
		summary.PointCount,
		summary.BackendUsed,
		at,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("insert summary", err)
	}
	return true, nil
}

func (s *ContentStore) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrapErr(op, err)
	}
	return n, nil
}

// CountAll counts stored items.
func (s *ContentStore) CountAll(ctx context.Context) (int64, error) {
	return s.count(ctx, "count items", `SELECT COUNT(*) FROM raw_data.press_releases`)
}

// CountSummarized counts stored summaries.
func (s *ContentStore) CountSummarized(ctx context.Context) (int64, error) {
	return s.count(ctx, "count summaries", `SELECT COUNT(*) FROM raw_data.press_release_summary`)
}

// CountPublishedSince counts items published at or after since.
func (s *ContentStore) CountPublishedSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, "count recent",
		`SELECT COUNT(*) FROM raw_data.press_releases WHERE published_at >= $1`, since)
}

// Stats aggregates counts and date bounds in one query.
func (s *ContentStore) Stats(ctx context.Context) (digest.StoreStats, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	var st digest.StoreStats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	(SELECT COUNT(*) FROM raw_data.press_release_summary),
	MIN(published_at),
	MAX(published_at),
	MAX(scraped_at)
FROM raw_data.press_releases`).Scan(
		&st.TotalItems,
		&st.TotalSummarized,
		&st.OldestPublished,
		&st.NewestPublished,
		&st.LastFetched,
	)
	if err != nil {
		return digest.StoreStats{}, wrapErr("stats", err)
	}
	return st, nil
}

// ListRecent returns items joined with their summary, newest publish date
// first and undated items last.
func (s *ContentStore) ListRecent(ctx context.Context, limit int) ([]digest.RecentItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	query, args, err := psql.
		Select("pr.url", "COALESCE(pr.title, '')", "pr.published_at", "pr.created_at",
			"COALESCE(prs.summary, '')", "prs.bullet_points").
		From(itemsTable + " pr").
		LeftJoin(summariesTable + " prs ON prs.press_release_id = pr.id").
		OrderBy("pr.published_at DESC NULLS LAST", "pr.created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list recent", err)
	}
	defer rows.Close()

	var out []digest.RecentItem
	for rows.Next() {
		var (
			it     digest.RecentItem
			points []byte
		)
		if err := rows.Scan(&it.Locator, &it.Title, &it.PublishedAt, &it.CreatedAt, &it.SummaryText, &points); err != nil {
			return nil, wrapErr("scan recent", err)
		}
		it.KeyPoints = decodePoints(points)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list recent", err)
	}
	return out, nil
}

// decodePoints tolerates malformed JSON so one bad row never fails a listing.
func decodePoints(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var points []string
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil
	}
	return points
}
