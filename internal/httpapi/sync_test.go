package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysync/core/internal/testutil/memstore"
	"github.com/querysync/core/internal/types"
)

// httptestRequest issues a body-less request; every sync/admin handler in
// this file reads its scoping from the path and query string alone.
func httptestRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedDatasourceWithTask(t *testing.T, s *Server) (types.Datasource, types.SyncTask) {
	t.Helper()
	store, ok := s.Meta.(*memstore.Store)
	require.True(t, ok)

	ds := types.Datasource{ID: "ds1", Kind: types.KindEmbeddedColumnar, Name: "test", Active: true}
	store.PutDatasource(ds)

	task := types.SyncTask{
		ID: "task1", DatasourceID: ds.ID, SourceTable: "events", DestTable: "events",
		Mode: types.ModeSnapshot, Enabled: true, GroupKey: types.GroupKey(ds.ID, "", "events", "events"),
	}
	store.PutSyncTask(task)
	return ds, task
}

func TestHandleSyncAbortSetsCancelRequested(t *testing.T) {
	s, _ := newTestServer(t)
	_, task := seedDatasourceWithTask(t, s)

	rec := httptestRequest(t, s.Handler(), http.MethodPost, "/datasources/ds1/sync/abort")
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := s.Meta.GetSyncState(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.CancelRequested)
}

func TestHandleSyncAbortScopesToTaskIDQueryParam(t *testing.T) {
	s, _ := newTestServer(t)
	store, _ := s.Meta.(*memstore.Store)
	ds := types.Datasource{ID: "ds1", Kind: types.KindEmbeddedColumnar, Active: true}
	store.PutDatasource(ds)
	taskA := types.SyncTask{ID: "a", DatasourceID: ds.ID, SourceTable: "t1", DestTable: "t1", Enabled: true}
	taskB := types.SyncTask{ID: "b", DatasourceID: ds.ID, SourceTable: "t2", DestTable: "t2", Enabled: true}
	store.PutSyncTask(taskA)
	store.PutSyncTask(taskB)

	q := url.Values{"taskId": []string{"a"}}
	rec := httptestRequest(t, s.Handler(), http.MethodPost, "/datasources/ds1/sync/abort?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code)

	stateA, err := s.Meta.GetSyncState(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, stateA)
	assert.True(t, stateA.CancelRequested)

	stateB, err := s.Meta.GetSyncState(context.Background(), "b")
	require.NoError(t, err)
	assert.Nil(t, stateB)
}

func TestHandleSyncStatusReportsSeededState(t *testing.T) {
	s, _ := newTestServer(t)
	_, task := seedDatasourceWithTask(t, s)
	require.NoError(t, s.Meta.PutSyncState(context.Background(), &types.SyncState{
		TaskID: task.ID, InProgress: true, ProgressCurrent: 5, ProgressTotal: 10,
	}))

	rec := httptestRequest(t, s.Handler(), http.MethodGet, "/datasources/ds1/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tasks []syncStatusEntry `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.True(t, body.Tasks[0].InProgress)
	assert.EqualValues(t, 5, body.Tasks[0].ProgressCurrent)
}

func TestHandleSyncLogsRequiresTaskID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptestRequest(t, s.Handler(), http.MethodGet, "/datasources/ds1/sync/logs")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncLogsReturnsRunHistory(t *testing.T) {
	s, _ := newTestServer(t)
	_, task := seedDatasourceWithTask(t, s)
	now := time.Now()
	require.NoError(t, s.Meta.InsertSyncRun(context.Background(), &types.SyncRun{
		ID: "run1", TaskID: task.ID, DatasourceID: "ds1", StartedAt: now,
	}))

	rec := httptestRequest(t, s.Handler(), http.MethodGet, "/datasources/ds1/sync/logs?taskId="+task.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []types.SyncRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run1", body.Runs[0].ID)
}

func TestHandleResetStuckReturnsCount(t *testing.T) {
	s, _ := newTestServer(t)
	_, task := seedDatasourceWithTask(t, s)
	stuckStart := time.Now().Add(-time.Hour)
	require.NoError(t, s.Meta.PutSyncState(context.Background(), &types.SyncState{
		TaskID: task.ID, InProgress: true, StartedAt: &stuckStart,
	}))

	rec := httptestRequest(t, s.Handler(), http.MethodPost, "/datasources/ds1/sync/reset-stuck")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reset int `json:"reset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Reset)
}

func TestHandleEnginesDisposeAllSucceeds(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptestRequest(t, s.Handler(), http.MethodPost, "/datasources/engines/dispose-all")
	require.Equal(t, http.StatusOK, rec.Code)
}
