package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysync/core/internal/cache"
	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/exec/enginepool"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sync/coordinator"
	"github.com/querysync/core/internal/sync/engine"
	"github.com/querysync/core/internal/testutil/memstore"
	"github.com/querysync/core/internal/throttle"
)

// newTestServer wires a real embedded store (backed by a temp-dir sqlite
// file, following embedded_test.go's pattern) behind a Server, the same
// way cmd/querysyncd's wiring does when no remote metadata store or
// datasource is configured.
func newTestServer(t *testing.T) (*Server, *embedded.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := embedded.Open(context.Background(), embedded.Config{
		DefaultPath: filepath.Join(dir, "default.db"),
		MarkerPath:  filepath.Join(dir, "active.marker"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool := enginepool.New()
	r := router.New(pool, store, 10000)
	eng := engine.New(r, store)
	meta := memstore.New()
	coord := coordinator.New(meta, eng, nil, store)

	s := &Server{
		Meta:     meta,
		Router:   r,
		Pool:     pool,
		Cache:    cache.New(cache.DefaultTTL, nil),
		Gate:     throttle.NewGate(throttle.DefaultLimits(), nil),
		Coord:    coord,
		Resolver: PassthroughResolver{},
		Auth:     TrustAll{},
	}
	return s, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedEventsTable(t *testing.T, store *embedded.Store) {
	t.Helper()
	eng := store.Engine()
	ctx := context.Background()
	require.NoError(t, eng.ExecContext(ctx, "CREATE TABLE events (id INTEGER PRIMARY KEY, kind TEXT, amount INTEGER)", nil))
	require.NoError(t, eng.ExecContext(ctx, "INSERT INTO events (id, kind, amount) VALUES (1, 'click', 10)", nil))
	require.NoError(t, eng.ExecContext(ctx, "INSERT INTO events (id, kind, amount) VALUES (2, 'view', 20)", nil))
	require.NoError(t, eng.ExecContext(ctx, "INSERT INTO events (id, kind, amount) VALUES (3, 'click', 30)", nil))
}

func TestHandleQueryReturnsRowsFromEmbeddedStore(t *testing.T) {
	s, store := newTestServer(t)
	seedEventsTable(t, store)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/query", queryRequest{
		SQL:   "SELECT id, kind, amount FROM events ORDER BY id",
		Limit: 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"id", "kind", "amount"}, resp.Columns)
	require.Len(t, resp.Rows, 3)
	assert.EqualValues(t, 1, resp.Rows[0][0])
}

func TestHandleQueryRejectsEmptySQL(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/query", queryRequest{SQL: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BadRequest", body.Code)
}

func TestHandleQueryCachesSecondCall(t *testing.T) {
	s, store := newTestServer(t)
	seedEventsTable(t, store)

	req := queryRequest{SQL: "SELECT COUNT(*) AS n FROM events", Limit: 10}
	first := doJSON(t, s.Handler(), http.MethodPost, "/query", req)
	require.Equal(t, http.StatusOK, first.Code)

	// Drop the underlying table; a cache hit on the second call must still
	// succeed since the cached result never re-queries the engine.
	require.NoError(t, store.Engine().ExecContext(context.Background(), "DROP TABLE events", nil))

	second := doJSON(t, s.Handler(), http.MethodPost, "/query", req)
	require.Equal(t, http.StatusOK, second.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 1)
}

func TestHandleDistinctReturnsUniqueValues(t *testing.T) {
	s, store := newTestServer(t)
	seedEventsTable(t, store)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/query/distinct", distinctRequestBody{
		Source: "events",
		Field:  "kind",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Values []any `json:"values"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Values, 2)
}

func TestHandlePivotSQLDoesNotExecute(t *testing.T) {
	s, store := newTestServer(t)
	seedEventsTable(t, store)
	// Drop the table: pivot/sql must still succeed since it never executes.
	require.NoError(t, store.Engine().ExecContext(context.Background(), "DROP TABLE events", nil))

	rec := doJSON(t, s.Handler(), http.MethodPost, "/query/pivot/sql", pivotRequest{
		Source:     "events",
		Rows:       []string{"kind"},
		Aggregator: "count",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SQL string `json:"sql"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.SQL, "kind")
}

func TestHandleQueryUnknownDatasourceIsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/query", queryRequest{
		SQL:          "SELECT 1",
		DatasourceID: "missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
