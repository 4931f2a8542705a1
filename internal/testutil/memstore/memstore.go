// Package memstore is an in-memory types.MetadataStore, in the style of
// the fakeMetadataStore in internal/sync/coordinator's test suite. It
// exists for cmd/querysyncd's
// no-DSN smoke-wiring mode and for tests that want a real MetadataStore
// without a postgres instance; it is not a production metadata store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/querysync/core/internal/types"
)

// Store is a mutex-protected, process-local types.MetadataStore.
type Store struct {
	mu          sync.Mutex
	datasources map[string]*types.Datasource
	tasks       map[string]types.SyncTask
	states      map[string]*types.SyncState
	runs        map[string]*types.SyncRun
	locks       map[string]types.SyncLock
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		datasources: make(map[string]*types.Datasource),
		tasks:       make(map[string]types.SyncTask),
		states:      make(map[string]*types.SyncState),
		runs:        make(map[string]*types.SyncRun),
		locks:       make(map[string]types.SyncLock),
	}
}

// PutDatasource registers or replaces a datasource, for callers (the
// httpapi tests) that need to populate the store directly since nothing
// external creates rows here.
func (s *Store) PutDatasource(ds types.Datasource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ds
	s.datasources[ds.ID] = &cp
}

// PutSyncTask registers or replaces a sync task.
func (s *Store) PutSyncTask(task types.SyncTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

func (s *Store) GetDatasource(ctx context.Context, id string) (*types.Datasource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasources[id]
	if !ok {
		return nil, nil
	}
	cp := *ds
	return &cp, nil
}

func (s *Store) ListSyncTasks(ctx context.Context, datasourceID string) ([]types.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SyncTask
	for _, t := range s.tasks {
		if t.DatasourceID == datasourceID && t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetSyncTask(ctx context.Context, taskID string) (*types.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (s *Store) GetSyncState(ctx context.Context, taskID string) (*types.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[taskID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *Store) PutSyncState(ctx context.Context, state *types.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.TaskID] = &cp
	return nil
}

func (s *Store) InsertSyncRun(ctx context.Context, run *types.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) UpdateSyncRun(ctx context.Context, run *types.SyncRun) error {
	return s.InsertSyncRun(ctx, run)
}

func (s *Store) ListSyncRuns(ctx context.Context, taskID string, limit int) ([]types.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SyncRun
	for _, r := range s.runs {
		if r.TaskID == taskID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AcquireLock(ctx context.Context, groupKey, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[groupKey]; ok {
		return errors.Errorf("memstore: lock %q already held", groupKey)
	}
	s.locks[groupKey] = types.SyncLock{GroupKey: groupKey, Token: token, CreatedAt: time.Now()}
	return nil
}

func (s *Store) ReleaseLock(ctx context.Context, groupKey, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[groupKey]; ok && l.Token == token {
		delete(s.locks, groupKey)
	}
	return nil
}

func (s *Store) ForceReleaseLock(ctx context.Context, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, groupKey)
	return nil
}

func (s *Store) GetLock(ctx context.Context, groupKey string) (*types.SyncLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[groupKey]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (s *Store) ListStaleInProgress(ctx context.Context) ([]types.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SyncState
	cutoff := time.Now().Add(-types.StuckJobThreshold)
	for _, st := range s.states {
		if st.InProgress && st.StartedAt != nil && st.StartedAt.Before(cutoff) {
			out = append(out, *st)
		}
	}
	return out, nil
}

// WithTx runs fn against the same Store; Store's operations are already
// atomic under its own mutex, so there is no separate transactional
// session to hand out, unlike internal/metastore/postgres's WithTx.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx types.MetadataStore) error) error {
	return fn(ctx, s)
}

var _ types.MetadataStore = (*Store)(nil)
