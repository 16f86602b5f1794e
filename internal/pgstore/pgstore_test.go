package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New("   ")
	assert.ErrorIs(t, err, ErrInvalidDSN)
}

func TestBackend_OpenFailureIsSticky(t *testing.T) {
	b, err := New("postgres://example.invalid/db")
	assert.NoError(t, err)

	calls := 0
	boom := errors.New("dial refused")
	b.openDB = func(string, string) (*sql.DB, error) {
		calls++
		return nil, boom
	}

	_, err = b.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	err = b.Set(context.Background(), "k", cacheEntry())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "initialisation is attempted once")
	assert.NoError(t, b.Close())
}

func TestBackend_QuotesTableName(t *testing.T) {
	b, err := New("postgres://example.invalid/db")
	assert.NoError(t, err)
	b.tableName = `odd"name`
	assert.Equal(t, `"odd""name"`, b.table())
}
