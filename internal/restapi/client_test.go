package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/operations/cacheClearing/status", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{
			"isProcessing": true,
			"percentComplete": 61.5,
			"status": "running",
			"message": "Clearing cache",
			"bytesDeleted": 1024,
			"filesDeleted": 7
		}`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), Options{BaseURL: srv.URL, APIKey: "secret"})
	st, err := c.JobStatus(context.Background(), cnst.JobCacheClearing)
	require.NoError(t, err)

	assert.True(t, st.IsProcessing)
	assert.Equal(t, 61.5, st.PercentComplete)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, float64(1024), st.Details["bytesDeleted"])
	assert.Equal(t, float64(7), st.Details["filesDeleted"])
	assert.NotContains(t, st.Details, "status")
}

func TestJobStatus_IsRunningAlias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"isRunning": true}`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), Options{BaseURL: srv.URL})
	st, err := c.JobStatus(context.Background(), cnst.JobDepotMapping)
	require.NoError(t, err)
	assert.True(t, st.IsProcessing)
}

func TestAssociations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/downloads/associations", r.URL.Path)

		var req map[string][]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int64{42, 43}, req["ids"])

		_, _ = w.Write([]byte(`{"associations": {
			"42": {"tags": ["steam"], "events": [{"id": 7, "name": "LAN party"}]},
			"43": {"tags": [], "events": []}
		}}`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), Options{BaseURL: srv.URL})
	got, err := c.Associations(context.Background(), []int64{42, 43})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, []string{"steam"}, got[42].Tags)
	require.Len(t, got[42].Events, 1)
	assert.Equal(t, int64(7), got[42].Events[0].ID)
	assert.Empty(t, got[43].Tags)
}

func TestRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"isProcessing": false}`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), Options{BaseURL: srv.URL})
	st, err := c.JobStatus(context.Background(), cnst.JobDatabaseReset)
	require.NoError(t, err)
	assert.False(t, st.IsProcessing)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestCancellationIsContextError(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c := NewClient(zap.NewNop(), Options{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.JobStatus(ctx, cnst.JobGameDetection)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBulkTimeoutSelection(t *testing.T) {
	c := NewClient(zap.NewNop(), Options{BaseURL: "http://x", Timeout: time.Second, BulkTimeout: 5 * time.Second})
	assert.Equal(t, time.Second, c.timeout())
	c.SetBulkRunning(true)
	assert.Equal(t, 5*time.Second, c.timeout())
	c.SetBulkRunning(false)
	assert.Equal(t, time.Second, c.timeout())
}

func TestSetPreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/preferences/use24HourFormat", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s1", req["sessionId"])
		assert.Equal(t, true, req["value"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), Options{BaseURL: srv.URL})
	assert.NoError(t, c.SetPreference(context.Background(), "s1", "use24HourFormat", true))
}
