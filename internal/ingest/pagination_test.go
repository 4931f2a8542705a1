package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSinglePlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{{"id": 1}, {"id": 2}},
		})
	}))
	defer srv.Close()

	r := New(nil)
	items, err := r.fetchAll(context.Background(), Config{JSONRoot: "records"}, http.MethodGet, srv.URL, map[string]string{}, map[string]string{}, "", nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFetchSingleHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := New(nil)
	_, err := r.fetchAll(context.Background(), Config{}, http.MethodGet, srv.URL, map[string]string{}, map[string]string{}, "", nil)
	require.Error(t, err)
}

func TestFetchPagedStopsOnShortPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		page := req.URL.Query().Get("page")
		var recs []map[string]any
		if page == "1" {
			recs = []map[string]any{{"id": 1}, {"id": 2}}
		}
		_ = json.NewEncoder(w).Encode(recs)
	}))
	defer srv.Close()

	r := New(nil)
	cfg := Config{
		Pagination: PaginationConfig{Type: PaginationPage, PageSize: 2, MaxPages: 5},
	}
	items, err := r.fetchAll(context.Background(), cfg, http.MethodGet, srv.URL, map[string]string{}, map[string]string{}, "", nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, calls)
}

func TestFetchCursorFollowsNextCursorPath(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		cursor := req.URL.Query().Get("cursor")
		switch cursor {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":      []map[string]any{{"id": 1}},
				"nextCursor": "page2",
			})
		case "page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": 2}},
			})
		}
	}))
	defer srv.Close()

	r := New(nil)
	cfg := Config{
		JSONRoot: "items",
		Pagination: PaginationConfig{
			Type:           PaginationCursor,
			CursorParam:    "cursor",
			NextCursorPath: "nextCursor",
			MaxPages:       5,
		},
	}
	items, err := r.fetchAll(context.Background(), cfg, http.MethodGet, srv.URL, map[string]string{}, map[string]string{}, "", nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, calls)
}

func TestIsCSVFormatByContentType(t *testing.T) {
	resp := httpResponse{headers: map[string]string{"content-type": "text/csv; charset=utf-8"}}
	assert.True(t, isCSVFormat(resp, map[string]string{}, &Config{}))
}

func TestIsCSVFormatByExplicitParse(t *testing.T) {
	resp := httpResponse{headers: map[string]string{}}
	assert.True(t, isCSVFormat(resp, map[string]string{}, &Config{Parse: "csv"}))
}
