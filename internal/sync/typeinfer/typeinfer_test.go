package typeinfer

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
)

func TestColumnClassifiesNativeGoTypes(t *testing.T) {
	assert.Equal(t, Boolean, Column([]any{nil, true}))
	assert.Equal(t, BigInt, Column([]any{nil, int64(42)}))
	assert.Equal(t, Double, Column([]any{3.14}))
	assert.Equal(t, Varchar, Column([]any{nil, nil}))
}

func TestColumnClassifiesISODateAndTimestampStrings(t *testing.T) {
	assert.Equal(t, Date, Column([]any{"2024-01-15"}))
	assert.Equal(t, Timestamp, Column([]any{"2024-01-15T10:30:00Z"}))
	assert.Equal(t, Timestamp, Column([]any{"2024-01-15 10:30:00"}))
}

func TestColumnClassifiesNumericStringsByPrecision(t *testing.T) {
	assert.Equal(t, BigInt, Column([]any{"12345"}))
	assert.Equal(t, Double, Column([]any{"12345.67"}))
	assert.Equal(t, Decimal, Column([]any{"123456789012345.6789"}))
}

func TestColumnDefaultsToVarchar(t *testing.T) {
	assert.Equal(t, Varchar, Column([]any{"hello world"}))
	assert.Equal(t, Varchar, Column(nil))
}

func TestColumnClassifiesApdDecimalByExponent(t *testing.T) {
	integral, _, _ := apd.NewFromString("100")
	assert.Equal(t, BigInt, Column([]any{integral}))

	fractional, _, _ := apd.NewFromString("1.5")
	assert.Equal(t, Double, Column([]any{fractional}))
}

func TestColumnClassifiesTimeByMidnightBoundary(t *testing.T) {
	midnight := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	withTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, Date, Column([]any{midnight}))
	assert.Equal(t, Timestamp, Column([]any{withTime}))
}

func TestColumnStopsAtFirstNonVarcharSample(t *testing.T) {
	assert.Equal(t, BigInt, Column([]any{nil, "not a number", int64(7)}))
}

func TestSQLiteTypeMapping(t *testing.T) {
	assert.Equal(t, "INTEGER", SQLiteType(Boolean))
	assert.Equal(t, "INTEGER", SQLiteType(BigInt))
	assert.Equal(t, "REAL", SQLiteType(Double))
	assert.Equal(t, "TEXT", SQLiteType(Decimal))
	assert.Equal(t, "TEXT", SQLiteType(Timestamp))
	assert.Equal(t, "TEXT", SQLiteType(Date))
	assert.Equal(t, "TEXT", SQLiteType(Varchar))
}
