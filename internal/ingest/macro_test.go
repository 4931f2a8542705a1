package ingest

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDateMacroToday(t *testing.T) {
	dt := parseDateMacro("today")
	now := time.Now().UTC()
	assert.Equal(t, now.Year(), dt.Year())
	assert.Equal(t, now.YearDay(), dt.YearDay())
	assert.Equal(t, 0, dt.Hour())
}

func TestParseDateMacroWithOffset(t *testing.T) {
	base := parseDateMacro("today")
	plus3 := parseDateMacro("today+3d")
	assert.Equal(t, base.AddDate(0, 0, 3), plus3)
}

func TestParseDateMacroStartOfWeekIsMonday(t *testing.T) {
	dt := parseDateMacro("startOfWeek")
	assert.Equal(t, time.Monday, dt.Weekday())
}

func TestParseDateMacroEndOfMonth(t *testing.T) {
	dt := parseDateMacro("endOfMonth")
	nextDay := dt.AddDate(0, 0, 1)
	assert.Equal(t, 1, nextDay.Day())
}

func TestResolveSecretRefs(t *testing.T) {
	require := assert.New(t)
	os.Setenv("INGEST_TEST_SECRET", "s3cr3t")
	defer os.Unsetenv("INGEST_TEST_SECRET")
	out := resolveSecretRefs("Bearer {{secret:INGEST_TEST_SECRET}}")
	require.Equal("Bearer s3cr3t", out)
}

func TestNormalizeFormatConvertsFriendlyTokens(t *testing.T) {
	assert.Equal(t, "2006-01-02", normalizeFormat("YYYY-MM-DD"))
	assert.Equal(t, "%Y-%m-%d", normalizeFormat("%Y-%m-%d"))
}

func TestFormatDateWithStrftimeTokens(t *testing.T) {
	dt := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-05", formatDate(dt, "%Y-%m-%d"))
	assert.Equal(t, "2026-03-05", formatDate(dt, "YYYY-MM-DD"))
	assert.Equal(t, "2026-03-05", formatDate(dt, ""))
}

func TestTokenReplaceSubstitutesAndResolvesSecrets(t *testing.T) {
	os.Setenv("INGEST_TEST_SECRET2", "abc")
	defer os.Unsetenv("INGEST_TEST_SECRET2")
	out := tokenReplace("https://api/{start}/{end}?key={{secret:INGEST_TEST_SECRET2}}", map[string]string{
		"start": "2026-01-01",
		"end":   "2026-01-31",
	})
	assert.Equal(t, "https://api/2026-01-01/2026-01-31?key=abc", out)
}
