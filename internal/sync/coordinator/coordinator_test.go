package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/ingest"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sync/engine"
	"github.com/querysync/core/internal/types"
)

type fakeRows struct {
	cols []string
	data [][]any
	idx  int
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }
func (r *fakeRows) Next() bool                 { return r.idx < len(r.data) }
func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	r.idx++
	for i, d := range dest {
		p := d.(*any)
		*p = row[i]
	}
	return nil
}
func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type queryCall struct {
	cols []string
	rows [][]any
}

type fakeSourceEngine struct {
	queries []queryCall
	calls   int
}

func (e *fakeSourceEngine) Dialect() dialect.Kind { return dialect.Postgres }

func (e *fakeSourceEngine) QueryContext(ctx context.Context, statement string, args []any) (router.Rows, error) {
	call := e.queries[e.calls]
	e.calls++
	return &fakeRows{cols: call.cols, data: call.rows}, nil
}

func (e *fakeSourceEngine) ExecContext(ctx context.Context, statement string, args []any) error {
	return nil
}

type fakePool struct {
	engine router.Engine
}

func (p *fakePool) Checkout(ctx context.Context, dsn string, kind types.DatasourceKind) (router.Engine, error) {
	return p.engine, nil
}
func (p *fakePool) Dispose(dsn string) {}

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

// fakeMetadataStore is a minimal in-memory types.MetadataStore for exercising
// the coordinator's gate/lock/lifecycle logic without a real metadata
// backend.
type fakeMetadataStore struct {
	mu          sync.Mutex
	datasources map[string]*types.Datasource
	tasks       map[string]types.SyncTask
	states      map[string]*types.SyncState
	runs        map[string]*types.SyncRun
	locks       map[string]types.SyncLock
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		datasources: map[string]*types.Datasource{},
		tasks:       map[string]types.SyncTask{},
		states:      map[string]*types.SyncState{},
		runs:        map[string]*types.SyncRun{},
		locks:       map[string]types.SyncLock{},
	}
}

func (m *fakeMetadataStore) GetDatasource(ctx context.Context, id string) (*types.Datasource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datasources[id], nil
}

func (m *fakeMetadataStore) ListSyncTasks(ctx context.Context, datasourceID string) ([]types.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SyncTask
	for _, t := range m.tasks {
		if t.DatasourceID == datasourceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *fakeMetadataStore) GetSyncTask(ctx context.Context, taskID string) (*types.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *fakeMetadataStore) GetSyncState(ctx context.Context, taskID string) (*types.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[taskID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *fakeMetadataStore) PutSyncState(ctx context.Context, state *types.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.TaskID] = &cp
	return nil
}

func (m *fakeMetadataStore) InsertSyncRun(ctx context.Context, run *types.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *fakeMetadataStore) UpdateSyncRun(ctx context.Context, run *types.SyncRun) error {
	return m.InsertSyncRun(ctx, run)
}

func (m *fakeMetadataStore) ListSyncRuns(ctx context.Context, taskID string, limit int) ([]types.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SyncRun
	for _, r := range m.runs {
		if r.TaskID == taskID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *fakeMetadataStore) AcquireLock(ctx context.Context, groupKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[groupKey]; ok {
		return assert.AnError
	}
	m.locks[groupKey] = types.SyncLock{GroupKey: groupKey, Token: token, CreatedAt: time.Now()}
	return nil
}

func (m *fakeMetadataStore) ReleaseLock(ctx context.Context, groupKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[groupKey]; ok && l.Token == token {
		delete(m.locks, groupKey)
	}
	return nil
}

func (m *fakeMetadataStore) ForceReleaseLock(ctx context.Context, groupKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, groupKey)
	return nil
}

func (m *fakeMetadataStore) GetLock(ctx context.Context, groupKey string) (*types.SyncLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[groupKey]; ok {
		cp := l
		return &cp, nil
	}
	return nil, nil
}

func (m *fakeMetadataStore) ListStaleInProgress(ctx context.Context) ([]types.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SyncState
	cutoff := time.Now().Add(-types.StuckJobThreshold)
	for _, s := range m.states {
		if s.InProgress && s.StartedAt != nil && s.StartedAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *fakeMetadataStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx types.MetadataStore) error) error {
	return fn(ctx, m)
}

func newTestCoordinator(t *testing.T, source *fakeSourceEngine) (*Coordinator, *fakeMetadataStore, *embedded.Store) {
	t.Helper()
	store := newTestStore(t)
	r := router.New(&fakePool{engine: source}, store, 10000)
	e := engine.New(r, store)
	meta := newFakeMetadataStore()
	return New(meta, e, ingest.New(store), store), meta, store
}

func baseDatasource(id string) types.Datasource {
	return types.Datasource{
		ID:                 id,
		Kind:               types.KindPostgresFamily,
		Active:             true,
		MaxConcurrentSyncs: 5,
	}
}

func TestRunRejectsInactiveDatasource(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakeSourceEngine{})
	ds := baseDatasource("ds1")
	ds.Active = false

	_, err := c.Run(context.Background(), RunRequest{Datasource: ds})
	require.Error(t, err)
}

func TestRunRejectsWhenConcurrencyLimitReached(t *testing.T) {
	c, meta, _ := newTestCoordinator(t, &fakeSourceEngine{})
	ds := baseDatasource("ds1")
	ds.MaxConcurrentSyncs = 1

	busyTask := types.SyncTask{ID: "t-busy", DatasourceID: "ds1", GroupKey: "g-busy", Mode: types.ModeSequence}
	meta.tasks[busyTask.ID] = busyTask
	meta.states[busyTask.ID] = &types.SyncState{TaskID: busyTask.ID, InProgress: true}

	task := types.SyncTask{ID: "t1", DatasourceID: "ds1", GroupKey: "g1", Mode: types.ModeSequence}
	_, err := c.Run(context.Background(), RunRequest{Datasource: ds, Tasks: []types.SyncTask{task}})
	require.Error(t, err)
}

func TestRunReleasesLocksOnAcquireFailure(t *testing.T) {
	c, meta, _ := newTestCoordinator(t, &fakeSourceEngine{})
	ds := baseDatasource("ds1")

	taskA := types.SyncTask{ID: "a", DatasourceID: "ds1", GroupKey: "g-a", Mode: types.ModeSequence}
	taskB := types.SyncTask{ID: "b", DatasourceID: "ds1", GroupKey: "g-b", Mode: types.ModeSequence}
	meta.tasks[taskA.ID] = taskA
	meta.tasks[taskB.ID] = taskB

	// g-b is already locked by someone else, so acquiring it must fail
	// after g-a (sorted first) has already been acquired; g-a must then
	// be released rather than leaked.
	meta.locks["g-b"] = types.SyncLock{GroupKey: "g-b", Token: "someone-else"}

	_, err := c.Run(context.Background(), RunRequest{Datasource: ds, Tasks: []types.SyncTask{taskA, taskB}})
	require.Error(t, err)

	_, stillHeld := meta.locks["g-a"]
	assert.False(t, stillHeld)
}

func TestRunOrdersSnapshotTasksBeforeSequenceTasks(t *testing.T) {
	source := &fakeSourceEngine{
		queries: []queryCall{
			{cols: []string{"id"}, rows: nil},                    // snapshot: zero-row probe
			{cols: []string{"id"}, rows: [][]any{{int64(1)}}},     // snapshot: sample
			{cols: []string{"id"}, rows: [][]any{{int64(1)}}},     // snapshot: chunk
			{cols: []string{"id"}, rows: [][]any{{int64(9)}}},     // sequence: batch
		},
	}
	c, meta, _ := newTestCoordinator(t, source)
	ds := baseDatasource("ds1")

	seqTask := types.SyncTask{
		ID: "seq", DatasourceID: "ds1", GroupKey: "g1", Mode: types.ModeSequence,
		DestTable: "dest_seq", SequenceColumn: "id", BatchSize: 10,
	}
	snapTask := types.SyncTask{
		ID: "snap", DatasourceID: "ds1", GroupKey: "g2", Mode: types.ModeSnapshot,
		DestTable: "dest_snap",
	}
	meta.tasks[seqTask.ID] = seqTask
	meta.tasks[snapTask.ID] = snapTask

	// Request lists the sequence task first; the coordinator must still
	// run the snapshot task first.
	result, err := c.Run(context.Background(), RunRequest{
		Datasource: ds,
		Tasks:      []types.SyncTask{seqTask, snapTask},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "snap", result.Results[0].TaskID)
	assert.Equal(t, "seq", result.Results[1].TaskID)
	assert.Empty(t, result.Results[0].Error)
	assert.Empty(t, result.Results[1].Error)
}

func TestRunRefreshesSiblingSequenceWatermarkAfterSnapshot(t *testing.T) {
	source := &fakeSourceEngine{
		queries: []queryCall{
			{cols: []string{"id"}, rows: nil},
			{cols: []string{"id"}, rows: [][]any{{int64(5)}, {int64(12)}}},
			{cols: []string{"id"}, rows: [][]any{{int64(5)}, {int64(12)}}},
		},
	}
	c, meta, _ := newTestCoordinator(t, source)
	ds := baseDatasource("ds1")

	snapTask := types.SyncTask{
		ID: "snap", DatasourceID: "ds1", GroupKey: "shared", Mode: types.ModeSnapshot,
		DestTable: "shared_dest",
	}
	sibling := types.SyncTask{
		ID: "seq-sibling", DatasourceID: "ds1", GroupKey: "shared", Mode: types.ModeSequence,
		DestTable: "shared_dest", SequenceColumn: "id",
	}
	meta.tasks[snapTask.ID] = snapTask
	meta.tasks[sibling.ID] = sibling
	meta.states[sibling.ID] = &types.SyncState{TaskID: sibling.ID}

	_, err := c.Run(context.Background(), RunRequest{
		Datasource: ds,
		Tasks:      []types.SyncTask{snapTask},
	})
	require.NoError(t, err)

	siblingState := meta.states[sibling.ID]
	require.NotNil(t, siblingState.LastSequenceValue)
	// SQL MAX() over the INTEGER-typed destination column yields the
	// numeric maximum.
	assert.Equal(t, "12", *siblingState.LastSequenceValue)
}

func TestResetStuckClearsInProgressAndReleasesLock(t *testing.T) {
	c, meta, _ := newTestCoordinator(t, &fakeSourceEngine{})
	stale := time.Now().Add(-time.Hour)

	task := types.SyncTask{ID: "t1", DatasourceID: "ds1", GroupKey: "g1", Mode: types.ModeSequence}
	meta.tasks[task.ID] = task
	meta.states[task.ID] = &types.SyncState{TaskID: task.ID, InProgress: true, StartedAt: &stale}
	meta.locks["g1"] = types.SyncLock{GroupKey: "g1", Token: "stuck-token", CreatedAt: stale}

	n, err := c.ResetStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, meta.states[task.ID].InProgress)
	_, locked := meta.locks["g1"]
	assert.False(t, locked)
}

func TestOrderTasksPutsSnapshotsFirst(t *testing.T) {
	tasks := []types.SyncTask{
		{ID: "a", Mode: types.ModeSequence},
		{ID: "b", Mode: types.ModeSnapshot},
		{ID: "c", Mode: types.ModeSequence},
		{ID: "d", Mode: types.ModeSnapshot},
	}
	ordered := orderTasks(tasks)
	ids := make([]string, len(ordered))
	for i, t := range ordered {
		ids[i] = t.ID
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestInBlackoutHandlesWrapAroundMidnight(t *testing.T) {
	windows := []types.BlackoutWindow{{Start: "22:00", End: "06:00"}}
	late := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, inBlackout(late, windows))
	assert.True(t, inBlackout(early, windows))
	assert.False(t, inBlackout(midday, windows))
}

func TestInBlackoutHandlesNonWrappingWindow(t *testing.T) {
	windows := []types.BlackoutWindow{{Start: "01:00", End: "02:00"}}
	inside := time.Date(2024, 1, 1, 1, 30, 0, 0, time.UTC)
	outside := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, inBlackout(inside, windows))
	assert.False(t, inBlackout(outside, windows))
}

func TestRunDispatchesHTTPAPIDatasourceToIngestRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": float64(1), "name": "Alice"},
			{"id": float64(2), "name": "Bob"},
		})
	}))
	defer srv.Close()

	c, meta, _ := newTestCoordinator(t, &fakeSourceEngine{})
	ds := baseDatasource("ds-http")
	ds.Kind = types.KindHTTPAPI

	cfg := ingest.Config{Endpoint: srv.URL, Method: "GET"}
	cfgJSON, err := json.Marshal(cfg)
	require.NoError(t, err)

	task := types.SyncTask{
		ID: "http-task", DatasourceID: "ds-http", GroupKey: "g-http",
		Mode: types.ModeSnapshot, DestTable: "api_rows", CustomQuery: string(cfgJSON),
	}
	meta.tasks[task.ID] = task

	result, err := c.Run(context.Background(), RunRequest{
		Datasource: ds,
		Tasks:      []types.SyncTask{task},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "http-task", result.Results[0].TaskID)
	assert.Empty(t, result.Results[0].Error)
	assert.Equal(t, int64(2), result.Results[0].RowCount)
}

func TestRunIngestTaskErrorsWithoutConfiguredRunner(t *testing.T) {
	store := newTestStore(t)
	r := router.New(&fakePool{engine: &fakeSourceEngine{}}, store, 10000)
	e := engine.New(r, store)
	meta := newFakeMetadataStore()
	c := New(meta, e, nil, store)

	ds := baseDatasource("ds-http")
	ds.Kind = types.KindHTTPAPI
	task := types.SyncTask{
		ID: "http-task", DatasourceID: "ds-http", GroupKey: "g-http",
		Mode: types.ModeSnapshot, DestTable: "api_rows", CustomQuery: `{}`,
	}
	meta.tasks[task.ID] = task

	result, err := c.Run(context.Background(), RunRequest{
		Datasource: ds,
		Tasks:      []types.SyncTask{task},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.NotEmpty(t, result.Results[0].Error)
}
