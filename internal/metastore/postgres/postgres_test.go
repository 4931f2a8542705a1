package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysync/core/internal/types"
)

// These tests exercise the store against a real postgres-family database;
// they're skipped unless one is reachable, following the pack's own
// version/flavor-gated-test convention rather than mocking the driver.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("QUERYSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUERYSYNC_TEST_POSTGRES_DSN not set; skipping postgres metastore test")
	}
	require.NoError(t, Bootstrap(dsn))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestPutSyncStateThenGetSyncStateRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	taskID := uuid.NewString()

	watermark := "42"
	now := time.Now().Truncate(time.Second)
	in := &types.SyncState{
		TaskID:            taskID,
		LastSequenceValue: &watermark,
		LastRunAt:         &now,
		InProgress:        true,
		ProgressPhase:     types.PhaseInsert,
		ProgressCurrent:   10,
		ProgressTotal:     100,
	}
	require.NoError(t, s.PutSyncState(ctx, in))

	got, err := s.GetSyncState(ctx, taskID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, watermark, *got.LastSequenceValue)
	assert.True(t, got.InProgress)
	assert.Equal(t, types.PhaseInsert, got.ProgressPhase)
	assert.Equal(t, int64(10), got.ProgressCurrent)
}

func TestGetSyncStateReturnsNilWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSyncState(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()

	require.NoError(t, s.AcquireLock(ctx, key, "token-a"))
	err := s.AcquireLock(ctx, key, "token-b")
	assert.Error(t, err)

	require.NoError(t, s.ReleaseLock(ctx, key, "token-a"))
	require.NoError(t, s.AcquireLock(ctx, key, "token-b"))
}

func TestForceReleaseLockAlwaysSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()

	require.NoError(t, s.AcquireLock(ctx, key, "token-a"))
	require.NoError(t, s.ForceReleaseLock(ctx, key))

	lock, err := s.GetLock(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestInsertSyncRunThenUpdateSyncRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := uuid.NewString()
	taskID := uuid.NewString()

	run := &types.SyncRun{
		ID:           runID,
		TaskID:       taskID,
		DatasourceID: uuid.NewString(),
		Mode:         types.ModeSnapshot,
		StartedAt:    time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.InsertSyncRun(ctx, run))

	finished := time.Now().Truncate(time.Second)
	rows := int64(250)
	run.FinishedAt = &finished
	run.RowCount = &rows
	require.NoError(t, s.UpdateSyncRun(ctx, run))

	runs, err := s.ListSyncRuns(ctx, taskID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(250), *runs[0].RowCount)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	taskID := uuid.NewString()

	err := s.WithTx(ctx, func(ctx context.Context, tx types.MetadataStore) error {
		require.NoError(t, tx.PutSyncState(ctx, &types.SyncState{TaskID: taskID}))
		return assert.AnError
	})
	assert.Error(t, err)

	got, getErr := s.GetSyncState(ctx, taskID)
	require.NoError(t, getErr)
	assert.Nil(t, got)
}
