package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyGapFillForwardFillsMissingDays(t *testing.T) {
	store := newTestStore(t)
	db := store.RawDB()
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE metrics (account_id TEXT, date TEXT, value TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO metrics (account_id, date, value) VALUES
		('a1', '2026-01-01', '10'),
		('a1', '2026-01-03', '30')`)
	require.NoError(t, err)

	require.NoError(t, applyGapFill(ctx, db, "metrics", "date", "account_id", nil, "ffill"))

	rows, err := db.Query("SELECT date, value FROM metrics_filled ORDER BY date ASC")
	require.NoError(t, err)
	defer rows.Close()

	var got []struct{ date, value string }
	for rows.Next() {
		var d, v string
		require.NoError(t, rows.Scan(&d, &v))
		got = append(got, struct{ date, value string }{d, v})
	}
	require.Len(t, got, 3)
	assert.Equal(t, "10", got[0].value)
	assert.Equal(t, "10", got[1].value)
	assert.Equal(t, "30", got[2].value)
}

func TestApplyGapFillZeroMethod(t *testing.T) {
	store := newTestStore(t)
	db := store.RawDB()
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE counters (account_id TEXT, date TEXT, count TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO counters (account_id, date, count) VALUES
		('a1', '2026-01-01', '5'),
		('a1', '2026-01-03', '7')`)
	require.NoError(t, err)

	require.NoError(t, applyGapFill(ctx, db, "counters", "date", "account_id", []string{"count"}, "zero"))

	var middle string
	require.NoError(t, db.QueryRow("SELECT count FROM counters_filled WHERE date = '2026-01-02'").Scan(&middle))
	assert.Equal(t, "0", middle)
}

func TestApplyGapFillNoKeyFieldsIsNoop(t *testing.T) {
	store := newTestStore(t)
	db := store.RawDB()
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE nofill (date TEXT, value TEXT)`)
	require.NoError(t, err)
	require.NoError(t, applyGapFill(ctx, db, "nofill", "date", "", nil, "ffill"))

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='nofill_filled'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
