package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedColumnsUnionsAndSorts(t *testing.T) {
	recs := []map[string]any{
		{"b": 1, "a": 2},
		{"c": 3, "a": 4},
	}
	assert.Equal(t, []string{"a", "b", "c"}, sortedColumns(recs))
}

func TestInsertAndDeleteWindow(t *testing.T) {
	store := newTestStore(t)
	db := store.RawDB()
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE events (date TEXT, amount TEXT)`)
	require.NoError(t, err)

	n, err := insertRecords(ctx, db, "events", []string{"date", "amount"}, []map[string]any{
		{"date": "2026-01-01", "amount": "10"},
		{"date": "2026-01-02", "amount": "20"},
		{"date": "2026-02-01", "amount": "30"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, deleteWindow(ctx, db, "events", "date", "2026-01-01", "2026-01-31"))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTruncateTable(t *testing.T) {
	store := newTestStore(t)
	db := store.RawDB()
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE widgets (id TEXT)`)
	require.NoError(t, err)
	_, err = insertRecords(ctx, db, "widgets", []string{"id"}, []map[string]any{{"id": "1"}, {"id": "2"}})
	require.NoError(t, err)

	require.NoError(t, truncateTable(ctx, db, "widgets"))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	assert.Equal(t, 0, count)
}
