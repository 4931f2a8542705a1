package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysync/core/internal/exec/embedded"
)

func newTestStore(t *testing.T) *embedded.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := embedded.Open(context.Background(), embedded.Config{
		DefaultPath: filepath.Join(dir, "active.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunnerRunPlainJSONEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer abc123", req.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{
				{"id": float64(1), "name": "Alice", "meta": map[string]any{"region": "us"}},
				{"id": float64(2), "name": "Bob", "meta": map[string]any{"region": "eu"}},
			},
		})
	}))
	defer srv.Close()

	store := newTestStore(t)
	r := New(store)

	cfg := Config{
		Endpoint: srv.URL,
		Method:   "GET",
		JSONRoot: "records",
		WriteMode: "replace",
		Auth: AuthConfig{Type: AuthBearer, Token: "abc123"},
	}

	res, err := r.Run(context.Background(), cfg, "customers", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowCount)
	assert.False(t, res.Aborted)

	db := store.RawDB()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM customers").Scan(&count))
	assert.Equal(t, 2, count)

	var region string
	require.NoError(t, db.QueryRow("SELECT meta_region FROM customers ORDER BY id ASC LIMIT 1").Scan(&region))
	assert.Equal(t, "us", region)
}

func TestRunnerRunCSVEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("id,name\n1,Alice\n2,Bob\n"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	r := New(store)

	cfg := Config{
		Endpoint:  srv.URL,
		Method:    "GET",
		WriteMode: "replace",
	}

	res, err := r.Run(context.Background(), cfg, "rows_csv", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowCount)
}

func TestRunnerRunSequencedWindowDeletesOverlap(t *testing.T) {
	store := newTestStore(t)
	r := New(store)
	db := store.RawDB()

	_, err := db.Exec("CREATE TABLE sales (date TEXT, amount TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO sales (date, amount) VALUES ('2026-01-05', '10')")
	require.NoError(t, err)

	var requestedStart, requestedEnd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestedStart = req.URL.Query().Get("start")
		requestedEnd = req.URL.Query().Get("end")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"date": requestedStart, "amount": float64(99)},
		})
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint: srv.URL,
		Method:   "GET",
		Sequence: SequenceConfig{
			Enabled:    true,
			DateField:  "date",
			WindowDays: 7,
			StartParam: "start",
			EndParam:   "end",
		},
	}

	res, err := r.Run(context.Background(), cfg, "sales", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-06", requestedStart)
	assert.NotEmpty(t, requestedEnd)
	assert.Equal(t, int64(1), res.RowCount)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sales").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRunnerRunRespectsAbortBeforeInsert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": float64(1)}})
	}))
	defer srv.Close()

	store := newTestStore(t)
	r := New(store)

	cfg := Config{Endpoint: srv.URL, Method: "GET"}
	res, err := r.Run(context.Background(), cfg, "aborted_rows", nil, func() bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, int64(0), res.RowCount)
}

func TestRunnerRunHTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	r := New(store)

	cfg := Config{Endpoint: srv.URL, Method: "GET"}
	_, err := r.Run(context.Background(), cfg, "errs", nil, nil)
	require.Error(t, err)
}
