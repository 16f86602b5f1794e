package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, "secret", srv.Client())
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestHTTPClient_RoundTripAgainstMemory(t *testing.T) {
	clk := clock.NewFake(t0)
	mem := NewMemory(clk)
	mem.SetNextID(7)
	mem.Seed("tasks", model.Entity{ID: "T1", Fields: model.Fields{"status": model.String("doing")}, Version: model.VersionPtr(1)})
	c := newTestClient(t, Handler(mem, quietLogger()))
	ctx := context.Background()

	list, err := c.FetchCollection(ctx, Filter{Collection: "tasks"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.String("doing"), list[0].Fields["status"])

	updated, err := c.UpdateEntity(ctx, "tasks", "T1", model.Fields{"status": model.String("done")}, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", updated.OpID)
	assert.Equal(t, int64(2), *updated.Version)
	assert.True(t, updated.UpdatedAt.Equal(t0))

	created, err := c.CreateEntity(ctx, "tasks", model.Fields{"title": model.String("x")}, "op-2")
	require.NoError(t, err)
	assert.Equal(t, "T000007", created.ID)

	require.NoError(t, c.DeleteEntity(ctx, "tasks", "T1", "op-3"))
	_, err = c.UpdateEntity(ctx, "tasks", "T1", model.Fields{"status": model.String("x")}, "op-4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_SendsAuthAndOpID(t *testing.T) {
	var gotAuth, gotOp string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOp = r.Header.Get(OpIDHeader)
		writeJSON(w, http.StatusOK, model.Entity{ID: "T1"})
	}))

	_, err := c.UpdateEntity(context.Background(), "tasks", "T1", model.Fields{"a": model.Int(1)}, "op-42")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "op-42", gotOp)
}

func TestHTTPClient_RetriesReads(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Code: "rate_limited"})
		case 2:
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "unavailable"})
		default:
			writeJSON(w, http.StatusOK, entityList{Entities: []model.Entity{{ID: "T1"}}})
		}
	}))

	list, err := c.FetchCollection(context.Background(), Filter{Collection: "tasks"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_NeverRetriesWrites(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Message: "down"})
	}))

	_, err := c.UpdateEntity(context.Background(), "tasks", "T1", model.Fields{"a": model.Int(1)}, "op-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusServiceUnavailable, he.StatusCode)
	assert.Equal(t, "unavailable", he.Code)
}

func TestHTTPClient_ConflictMapsToSentinel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, errorBody{Code: "conflict"})
	}))

	err := c.DeleteEntity(context.Background(), "tasks", "T1", "op-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_FilterQuery(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, entityList{})
	}))

	_, err := c.FetchCollection(context.Background(), Filter{Collection: "tasks", Where: map[string]string{"status": "done", "project": "p 1"}})
	require.NoError(t, err)
	assert.Equal(t, "project=p+1&status=done", gotQuery)
}

func TestRetryDelay(t *testing.T) {
	c := NewHTTPClient("", "", nil)

	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 400*time.Millisecond, c.retryDelay(3, ""))
	assert.Equal(t, 2*time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "1"))
	assert.Equal(t, 2*time.Second, c.retryDelay(1, "120"))
}
