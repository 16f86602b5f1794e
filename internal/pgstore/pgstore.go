// Package pgstore provides a PostgreSQL cache backend for deployments that
// share one cache database between processes.
//
// The table is created lazily on first use. Timestamps are stored as Unix
// nanoseconds (0 meaning unset) so entries round-trip exactly; TTL is still
// evaluated by cache.Cache, never by the database.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/optisync/internal/cache"
)

const (
	defaultTableName = "optisync_cache_entries"
	operationTimeout = 5 * time.Second
)

// ErrInvalidDSN is returned when no connection string is configured.
var ErrInvalidDSN = errors.New("pgstore: dsn is required")

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Backend is a cache.Backend over PostgreSQL.
type Backend struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var _ cache.Backend = (*Backend)(nil)

// New creates a Backend. No connection is made until first use.
func New(dsn string) (*Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &Backend{
		dsn:       dsn,
		tableName: defaultTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *Backend) table() string {
	return pq.QuoteIdentifier(b.tableName)
}

func (b *Backend) ensureReady(ctx context.Context) error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = fmt.Errorf("open postgres: %w", err)
			return
		}
		ctx, cancel := context.WithTimeout(ctx, operationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				value BYTEA NOT NULL,
				stored_at BIGINT NOT NULL,
				expires_at BIGINT NOT NULL DEFAULT 0
			)`, b.table())
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("create cache table: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}

// Get returns the entry for key or cache.ErrNotFound.
func (b *Backend) Get(ctx context.Context, key string) (cache.Entry, error) {
	if err := b.ensureReady(ctx); err != nil {
		return cache.Entry{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT value, stored_at, expires_at FROM %s WHERE key = $1", b.table())
	var (
		value              []byte
		storedAt, expireAt int64
	)
	err := b.db.QueryRowContext(ctx, query, key).Scan(&value, &storedAt, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Entry{}, fmt.Errorf("get %q: %w", key, err)
	}
	return cache.Entry{
		Value:     value,
		StoredAt:  fromUnixNano(storedAt),
		ExpiresAt: fromUnixNano(expireAt),
	}, nil
}

// Set inserts or replaces the entry for key.
func (b *Backend) Set(ctx context.Context, key string, e cache.Entry) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	value := e.Value
	if value == nil {
		value = []byte{}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, stored_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, stored_at = EXCLUDED.stored_at, expires_at = EXCLUDED.expires_at`,
		b.table())
	if _, err := b.db.ExecContext(ctx, query, key, value, unixNano(e.StoredAt), unixNano(e.ExpiresAt)); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", b.table())
	if _, err := b.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (b *Backend) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := b.ensureReady(ctx); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE substr(key, 1, length($1)) = $1", b.table())
	res, err := b.db.ExecContext(ctx, query, prefix)
	if err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return int(n), nil
}

// Keys returns every key starting with prefix in byte order.
func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT key FROM %s WHERE substr(key, 1, length($1)) = $1 ORDER BY key COLLATE "C"`, b.table())
	rows, err := b.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Clear removes every entry.
func (b *Backend) Clear(ctx context.Context) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", b.table())); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close closes the connection pool if one was opened.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
