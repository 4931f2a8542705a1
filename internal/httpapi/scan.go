package httpapi

import (
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/types"
)

// drainCells runs rows to completion, converting every value through
// cellFromDriverValue, mirroring internal/sync/engine.drain's shape but
// producing types.Cell rows instead of raw []any for the query-plane
// response path.
func drainCells(rows router.Rows) ([]string, [][]types.Cell, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	scanDest := make([]any, len(cols))
	raw := make([]any, len(cols))
	for i := range raw {
		scanDest[i] = &raw[i]
	}

	var out [][]types.Cell
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return nil, nil, err
		}
		row := make([]types.Cell, len(cols))
		for i, v := range raw {
			row[i] = cellFromDriverValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

// cellFromDriverValue converts a database/sql-scanned value — already
// normalized by the driver to one of its standard Go types (nil, int64,
// float64, bool, []byte, string, time.Time, *apd.Decimal) — into a
// types.Cell. The Rows interface this router exposes carries no column-type
// metadata, so a driver's []byte (the representation mysql and sqlite use
// for TEXT/VARCHAR columns) is treated as text rather than speculatively
// decimal-sniffed; pgx's own numeric type, when a caller's dialect wiring
// requests it, arrives already as *apd.Decimal and is passed through
// untouched.
func cellFromDriverValue(v any) types.Cell {
	switch val := v.(type) {
	case nil:
		return types.NullCell()
	case int64:
		return types.IntCell(val)
	case int:
		return types.IntCell(int64(val))
	case float64:
		return types.FloatCell(val)
	case float32:
		return types.FloatCell(float64(val))
	case bool:
		return types.BoolCell(val)
	case time.Time:
		return types.TimestampCell(val)
	case *apd.Decimal:
		return types.DecimalCell(val)
	case []byte:
		return types.StringCell(string(val))
	case string:
		return types.StringCell(val)
	default:
		return types.NullCell()
	}
}
