// Package typeinfer implements sample-based column type inference,
// shared by the sync engine and the API ingest pipeline since both
// create or evolve tables in the embedded store from a handful of
// sample rows rather than a declared schema.
package typeinfer

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Type is one of the abstract column types a sample can be classified
// into; SQLiteType maps it onto the embedded store's storage class.
type Type string

// The classification set a sample can resolve to.
const (
	Boolean   Type = "BOOLEAN"
	BigInt    Type = "BIGINT"
	Double    Type = "DOUBLE"
	Decimal   Type = "DECIMAL"
	Timestamp Type = "TIMESTAMP"
	Date      Type = "DATE"
	Varchar   Type = "VARCHAR"
)

// decimalDigitsSafeAsFloat64 is float64's usable decimal precision; a
// numeric string with more significant digits than this would lose
// precision if stored as DOUBLE, so it is classified DECIMAL instead.
const decimalDigitsSafeAsFloat64 = 15

// dateLayout and timestampLayouts are the ISO-like formats recognized
// when classifying a string sample.
const dateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
}

// Column infers the type of a column from up to 64 sample cell values:
// numeric strings classify as numbers, ISO-like strings as DATE or
// TIMESTAMP, anything else as VARCHAR. The
// first sample that yields a non-VARCHAR classification wins; an all-nil
// or all-unparseable sample defaults to VARCHAR.
func Column(samples []any) Type {
	for _, v := range samples {
		if t := classify(v); t != Varchar {
			return t
		}
	}
	return Varchar
}

func classify(v any) Type {
	switch val := v.(type) {
	case nil:
		return Varchar
	case bool:
		return Boolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return BigInt
	case float32, float64:
		return Double
	case *apd.Decimal:
		return classifyDecimal(val)
	case time.Time:
		return classifyTime(val)
	case []byte:
		return classifyString(string(val))
	case string:
		return classifyString(val)
	default:
		return Varchar
	}
}

func classifyTime(t time.Time) Type {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return Date
	}
	return Timestamp
}

func classifyString(s string) Type {
	s = strings.TrimSpace(s)
	if s == "" {
		return Varchar
	}
	if d, _, err := apd.NewFromString(s); err == nil {
		return classifyDecimal(d)
	}
	if _, err := time.Parse(dateLayout, s); err == nil {
		return Date
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return Timestamp
		}
	}
	return Varchar
}

// classifyDecimal distinguishes BIGINT (no fractional digits), DOUBLE
// (fractional, fits float64's safe precision), and DECIMAL (fractional,
// more significant digits than float64 can represent exactly).
func classifyDecimal(d *apd.Decimal) Type {
	if d.Exponent >= 0 {
		return BigInt
	}
	if len(d.Coeff.String()) > decimalDigitsSafeAsFloat64 {
		return Decimal
	}
	return Double
}

// SQLiteType maps an inferred Type onto the embedded store's (sqlite)
// column affinity. DECIMAL, TIMESTAMP, and DATE are stored as TEXT:
// sqlite has no arbitrary-precision numeric type, and storing the
// original ISO text preserves the value exactly rather than rounding it
// through a float or a platform-specific date epoch.
func SQLiteType(t Type) string {
	switch t {
	case Boolean, BigInt:
		return "INTEGER"
	case Double:
		return "REAL"
	case Decimal, Timestamp, Date, Varchar:
		return "TEXT"
	default:
		return "TEXT"
	}
}
