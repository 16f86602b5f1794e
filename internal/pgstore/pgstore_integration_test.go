package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/cache"
	"github.com/roach88/optisync/internal/cache/cachetest"
)

var integrationCounter uint64

func TestPostgresIntegration_Conformance(t *testing.T) {
	dsn := integrationDSN(t)

	cachetest.Run(t, func(t *testing.T) cache.Backend {
		b, err := New(dsn)
		require.NoError(t, err)
		b.tableName = integrationTableName("optisync_cache_it")
		t.Cleanup(func() { dropTable(t, dsn, b.tableName) })
		return b
	})
}

func cacheEntry() cache.Entry {
	return cache.Entry{Value: []byte("v"), StoredAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func integrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("OPTISYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set OPTISYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func integrationTableName(prefix string) string {
	n := atomic.AddUint64(&integrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func dropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(tableName))
	require.NoError(t, err)
}
