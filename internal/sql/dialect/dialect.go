// Package dialect enumerates the SQL dialects the compiler targets and the
// per-dialect capability table used by the transform composer to decide
// between native and emulated behavior (e.g. TRANSLATE).
package dialect

import "strconv"

// Kind identifies a SQL dialect the compiler can target.
type Kind int

// The five dialects this module compiles against.
const (
	EmbeddedColumnar Kind = iota
	Postgres
	MySQL
	MSSQL
	SQLite
)

// String renders the dialect name for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case EmbeddedColumnar:
		return "embedded"
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case MSSQL:
		return "mssql"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Capabilities describes what a dialect natively supports, so the transform
// composer and compiler can choose native syntax or an emulated fallback.
type Capabilities struct {
	// NativeTranslate is true when the dialect has a TRANSLATE(expr,
	// search, replace) function that can be used directly rather than
	// emulated via chained REPLACE calls.
	NativeTranslate bool
	// SupportsOffsetFetch is true when pagination should be expressed as
	// OFFSET n ROWS FETCH NEXT m ROWS ONLY rather than LIMIT/OFFSET.
	SupportsOffsetFetch bool
	// RequiresOrderByForOffset is true when the dialect rejects OFFSET
	// without an ORDER BY, requiring a ROW_NUMBER() wrapper.
	RequiresOrderByForOffset bool
	// Placeholder renders the nth (1-based) bind-parameter placeholder.
	Placeholder func(n int) string
}

// CapabilitiesFor returns the Capabilities for a dialect Kind.
//
// Only postgres-family has a native TRANSLATE; every other dialect --
// including embedded-columnar, which targets a DuckDB-style engine that
// also lacks TRANSLATE -- emulates it via chained REPLACE.
func CapabilitiesFor(k Kind) Capabilities {
	switch k {
	case Postgres:
		return Capabilities{
			NativeTranslate:     true,
			SupportsOffsetFetch: false,
			Placeholder:         func(n int) string { return dollarPlaceholder(n) },
		}
	case MySQL:
		return Capabilities{
			NativeTranslate:     false,
			SupportsOffsetFetch: false,
			Placeholder:         func(int) string { return "?" },
		}
	case MSSQL:
		return Capabilities{
			NativeTranslate:          false,
			SupportsOffsetFetch:      true,
			RequiresOrderByForOffset: true,
			Placeholder:              func(n int) string { return atPlaceholder(n) },
		}
	case SQLite, EmbeddedColumnar:
		return Capabilities{
			NativeTranslate:     false,
			SupportsOffsetFetch: false,
			Placeholder:         func(int) string { return "?" },
		}
	default:
		return Capabilities{Placeholder: func(int) string { return "?" }}
	}
}

func dollarPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func atPlaceholder(n int) string {
	return "@p" + strconv.Itoa(n)
}
