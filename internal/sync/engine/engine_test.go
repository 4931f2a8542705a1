package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/testutil/chaos"
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

func TestRunSequenceCreatesDestinationAndAdvancesWatermark(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSourceEngine{
		queries: []queryCall{
			{
				cols: []string{"id", "name", "amount", "created_at"},
				rows: [][]any{
					{int64(1), "Alice", 12.5, "2024-01-01T00:00:00Z"},
					{int64(2), "Bob", 7.25, "2024-01-02T00:00:00Z"},
				},
			},
		},
	}
	r := router.New(&fakePool{engine: source}, store, 10000)
	e := New(r, store)

	ctx := context.Background()
	result, err := e.RunSequence(ctx, SequenceInput{
		Source:         types.Datasource{Kind: types.KindPostgresFamily},
		SourceDSN:      "postgres://u:p@host/db",
		SourceTable:    "orders",
		DestTable:      "orders_synced",
		SequenceColumn: "id",
		PKColumns:      []string{"id"},
		BatchSize:      10,
		MaxBatches:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowCount)
	require.NotNil(t, result.LastSequenceValue)
	assert.Equal(t, "2", *result.LastSequenceValue)
	assert.False(t, result.Aborted)

	assert.True(t, store.HasTable(ctx, "orders_synced"))

	db := store.RawDB()
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "orders_synced"`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRunSequenceSurfacesChaosInjectedSourceFailure(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSourceEngine{
		queries: []queryCall{{cols: []string{"id"}, rows: [][]any{{int64(1)}}}},
	}
	r := router.New(&fakePool{engine: chaos.Wrap(source, 1.0)}, store, 10000)
	e := New(r, store)

	_, err := e.RunSequence(context.Background(), SequenceInput{
		Source:         types.Datasource{Kind: types.KindPostgresFamily},
		SourceDSN:      "postgres://u:p@host/db",
		SourceTable:    "orders",
		DestTable:      "orders_synced",
		SequenceColumn: "id",
		PKColumns:      []string{"id"},
		BatchSize:      10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, chaos.ErrChaos)
}

func TestRunSequenceStopsImmediatelyWhenAborted(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSourceEngine{}
	r := router.New(&fakePool{engine: source}, store, 10000)
	e := New(r, store)

	result, err := e.RunSequence(context.Background(), SequenceInput{
		Source:         types.Datasource{Kind: types.KindPostgresFamily},
		SourceTable:    "orders",
		DestTable:      "orders_synced",
		SequenceColumn: "id",
		BatchSize:      10,
		MaxBatches:     5,
		Aborted:        func() bool { return true },
	})
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, int64(0), result.RowCount)
	assert.Equal(t, 0, source.calls)
}

func TestRunSnapshotStagesAndSwapsIntoDestination(t *testing.T) {
	store := newTestStore(t)
	cols := []string{"id", "label"}
	rows := [][]any{
		{int64(1), "a"},
		{int64(2), "b"},
		{int64(3), "c"},
	}
	source := &fakeSourceEngine{
		queries: []queryCall{
			{cols: cols, rows: nil},  // zero-row probe
			{cols: cols, rows: rows}, // sample
			{cols: cols, rows: rows}, // first chunk (< chunkSize, loop ends)
		},
	}
	r := router.New(&fakePool{engine: source}, store, 10000)
	e := New(r, store)

	ctx := context.Background()
	result, err := e.RunSnapshot(ctx, SnapshotInput{
		Source:      types.Datasource{Kind: types.KindPostgresFamily},
		SourceTable: "widgets",
		DestTable:   "widgets_local",
		ChunkSize:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.RowCount)
	assert.False(t, result.Aborted)

	assert.True(t, store.HasTable(ctx, "widgets_local"))
	assert.False(t, store.HasTable(ctx, "stg_widgets_local"))

	db := store.RawDB()
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "widgets_local"`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestBuildSequenceSelectContinuesPlaceholderNumberingForMSSQL(t *testing.T) {
	last := "100"
	sql, args := buildSequenceSelect(dialect.MSSQL, SequenceInput{
		SourceTable:    "orders",
		SequenceColumn: "id",
		BatchSize:      50,
	}, &last)
	assert.Contains(t, sql, `"id" > @p1`)
	assert.Contains(t, sql, "OFFSET @p2 ROWS FETCH NEXT @p3 ROWS ONLY")
	assert.Equal(t, []any{"100", 0, 50}, args)
}

func TestBuildSequenceSelectWithoutWatermarkOmitsWhereClause(t *testing.T) {
	sql, args := buildSequenceSelect(dialect.Postgres, SequenceInput{
		SourceTable:    "orders",
		SequenceColumn: "id",
		BatchSize:      50,
	}, nil)
	assert.NotContains(t, sql, "WHERE")
	assert.Equal(t, []any{50, 0}, args)
}

func TestMaxSequenceValuePicksNumericMax(t *testing.T) {
	batch := [][]any{{int64(5)}, {int64(12)}, {int64(3)}}
	got := maxSequenceValue(nil, batch, 0)
	require.NotNil(t, got)
	// Numeric comparison, not lexicographic: 12 > 5 > 3.
	assert.Equal(t, "12", *got)
}

func TestToComparableStringHandlesCommonDriverTypes(t *testing.T) {
	assert.Equal(t, "7", toComparableString(int64(7)))
	assert.Equal(t, "abc", toComparableString([]byte("abc")))
	assert.Equal(t, "", toComparableString(nil))
}
