// Package badgerstore provides an embedded BadgerDB cache backend.
//
// Each entry is stored as a 16-byte header (stored_at and expires_at as
// big-endian Unix nanoseconds, zero meaning unset) followed by the raw
// value. Expiry is never enforced by Badger itself; cache.Cache owns TTL.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/multierr"

	"github.com/roach88/optisync/internal/cache"
)

// Config configures a Backend.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the rewrite threshold passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultConfig returns settings for an on-disk cache at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for an in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Backend is a cache.Backend over BadgerDB.
type Backend struct {
	db       *badger.DB
	gc       *gcRunner
	inMemory bool
}

var _ cache.Backend = (*Backend)(nil)

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Backend{db: db, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		b.gc.start()
	}
	return b, nil
}

// Get returns the entry for key or cache.ErrNotFound.
func (b *Backend) Get(ctx context.Context, key string) (cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, err
	}

	var e cache.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		e, err = decodeEntry(raw)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cache.Entry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Entry{}, fmt.Errorf("get %q: %w", key, err)
	}
	return e, nil
}

// Set inserts or replaces the entry for key.
func (b *Backend) Set(ctx context.Context, key string, e cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodeEntry(e))
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (b *Backend) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := b.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete([]byte(k)); err != nil {
			return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return len(keys), nil
}

// Keys returns every key starting with prefix in byte order.
func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Clear removes every entry.
func (b *Backend) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close stops value-log GC, flushes and closes the database.
func (b *Backend) Close() error {
	if b.gc != nil {
		b.gc.stop()
		b.gc = nil
	}
	var err error
	if !b.inMemory {
		err = multierr.Append(err, b.db.Sync())
	}
	return multierr.Append(err, b.db.Close())
}

const headerLen = 16

func encodeEntry(e cache.Entry) []byte {
	buf := make([]byte, headerLen+len(e.Value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(unixNano(e.StoredAt)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(unixNano(e.ExpiresAt)))
	copy(buf[headerLen:], e.Value)
	return buf
}

func decodeEntry(raw []byte) (cache.Entry, error) {
	if len(raw) < headerLen {
		return cache.Entry{}, fmt.Errorf("corrupt entry: %d bytes", len(raw))
	}
	return cache.Entry{
		StoredAt:  fromUnixNano(int64(binary.BigEndian.Uint64(raw[0:8]))),
		ExpiresAt: fromUnixNano(int64(binary.BigEndian.Uint64(raw[8:16]))),
		Value:     raw[headerLen:],
	}, nil
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

// badgerLogger adapts slog to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
