// Package sqlite implements the content store and run history on a single
// SQLite file for local and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"

	"github.com/JakeFAU/press-digest/internal/digest"
)

const (
	defaultQueryTimeout = 5 * time.Second
	// timeLayout is fixed width so lexical order matches chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLite primary result codes treated as connectivity failures.
const (
	codeBusy     = 5
	codeLocked   = 6
	codeIOErr    = 10
	codeCantOpen = 14
	codeNotADB   = 26
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS press_releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT UNIQUE NOT NULL,
	url_hash TEXT NOT NULL,
	title TEXT,
	content TEXT,
	published_at TEXT,
	raw_response TEXT,
	scraped_at TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_press_releases_url_hash ON press_releases (url_hash)`,
	`CREATE TABLE IF NOT EXISTS press_release_summary (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	press_release_id INTEGER UNIQUE NOT NULL REFERENCES press_releases(id),
	summary TEXT NOT NULL,
	bullet_points TEXT,
	word_count INTEGER,
	model_used TEXT,
	summarized_at TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	trigger TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	ingest_report TEXT,
	enrich_report TEXT
)`,
}

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Store owns the *sql.DB shared by ContentStore and RunStore.
type Store struct {
	db      *sql.DB
	path    string
	timeout time.Duration
	now     func() time.Time
}

// Open opens (creating when needed) the database at path.
func Open(path string, queryTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Store{
		db:      db,
		path:    path,
		timeout: queryTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ContentStore returns the digest.ContentStore view of s.
func (s *Store) ContentStore() *ContentStore {
	return &ContentStore{store: s}
}

// RunStore returns the store.RunRepository view of s.
func (s *Store) RunStore() *RunStore {
	return &RunStore{store: s}
}

func (s *Store) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapErr("ensure schema", err)
		}
	}
	return nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if connectivityFailure(err) {
		return digest.StorageUnavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func connectivityFailure(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if strings.Contains(err.Error(), "database is closed") {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case codeBusy, codeLocked, codeIOErr, codeCantOpen, codeNotADB:
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
