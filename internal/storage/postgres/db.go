// Package postgres implements the content store and run history on Postgres
// through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/press-digest/internal/digest"
)

const defaultQueryTimeout = 5 * time.Second

// Config controls the pgx pool and per-call timeouts.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	QueryTimeout    time.Duration
}

// Pool is the subset of pgxpool.Pool used by the stores; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Connect opens a pgx pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, digest.StorageUnavailable("connect postgres", err)
	}
	return pool, nil
}

// BuildDSN assembles a postgres URL from discrete settings. Credentials and
// the database name are escaped.
func BuildDSN(host string, port int, user, password, name string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// wrapErr annotates err with op. Anything that is not a server-side SQL error
// is classified as digest.ErrStorageUnavailable.
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
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P0x are shutdown/cannot-connect.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	return true
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultQueryTimeout
	}
	return d
}
