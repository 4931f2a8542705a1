package types

import (
	"encoding/hex"
	"math"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// CellKind discriminates the dynamic type carried by a Cell: rows are
// heterogeneous vectors of typed cells rather than statically-typed
// structs.
type CellKind int

// The supported cell kinds.
const (
	CellNull CellKind = iota
	CellInt
	CellFloat
	CellDecimal
	CellTimestamp
	CellDate
	CellBool
	CellBytes
	CellString
)

// Cell is a single typed value in a result row. Exactly one of the typed
// fields is meaningful, selected by Kind.
type Cell struct {
	Kind      CellKind
	Int       int64
	Float     float64
	Decimal   *apd.Decimal
	Timestamp time.Time
	Bool      bool
	Bytes     []byte
	Str       string
}

// NullCell returns a null-valued Cell.
func NullCell() Cell { return Cell{Kind: CellNull} }

// IntCell returns an integer-valued Cell.
func IntCell(v int64) Cell { return Cell{Kind: CellInt, Int: v} }

// FloatCell returns a float-valued Cell.
func FloatCell(v float64) Cell { return Cell{Kind: CellFloat, Float: v} }

// DecimalCell returns a decimal-valued Cell.
func DecimalCell(v *apd.Decimal) Cell { return Cell{Kind: CellDecimal, Decimal: v} }

// TimestampCell returns a timestamp-valued Cell.
func TimestampCell(v time.Time) Cell { return Cell{Kind: CellTimestamp, Timestamp: v} }

// DateCell returns a date-valued Cell (a Timestamp truncated to midnight).
func DateCell(v time.Time) Cell { return Cell{Kind: CellDate, Timestamp: v} }

// BoolCell returns a boolean-valued Cell.
func BoolCell(v bool) Cell { return Cell{Kind: CellBool, Bool: v} }

// BytesCell returns a byte-slice-valued Cell.
func BytesCell(v []byte) Cell { return Cell{Kind: CellBytes, Bytes: v} }

// StringCell returns a string-valued Cell.
func StringCell(v string) Cell { return Cell{Kind: CellString, Str: v} }

// JSONSafe converts a Cell into a value safe to pass through a JSON
// encoder: bytes become hex strings, NaN/Inf floats become nil, decimals
// become float64, and everything else passes through as its natural Go
// value.
func (c Cell) JSONSafe() any {
	switch c.Kind {
	case CellNull:
		return nil
	case CellInt:
		return c.Int
	case CellFloat:
		if math.IsNaN(c.Float) || math.IsInf(c.Float, 0) {
			return nil
		}
		return c.Float
	case CellDecimal:
		if c.Decimal == nil {
			return nil
		}
		f, err := c.Decimal.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case CellTimestamp:
		return c.Timestamp.UTC().Format(time.RFC3339Nano)
	case CellDate:
		return c.Timestamp.UTC().Format("2006-01-02")
	case CellBool:
		return c.Bool
	case CellBytes:
		return hex.EncodeToString(c.Bytes)
	case CellString:
		return c.Str
	default:
		return nil
	}
}

// Row is a single result row: one Cell per projected column, in column
// order.
type Row []Cell

// JSONSafe converts every cell in the row for JSON transport.
func (r Row) JSONSafe() []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.JSONSafe()
	}
	return out
}
