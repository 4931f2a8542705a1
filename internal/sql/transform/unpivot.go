package transform

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/resolve"
	"github.com/querysync/core/internal/types"
)

// ErrNoUnpivotColumns is returned when an unpivot transform names no source
// columns and none can be inferred from admitted aliases.
var ErrNoUnpivotColumns = errors.New("transform: unpivot has no source columns")

// buildUnpivot emits the composer's unpivot step: a UNION ALL, one SELECT
// per source column, each widening the row with a key/value pair, aliased
// `u`.
func buildUnpivot(d dialect.Kind, quotedSource string, t types.Transform, admitted []resolve.Item, baseColumns []string) (string, []string, error) {
	spec := t.Unpivot
	sourceColumns := spec.SourceColumns
	if len(sourceColumns) == 0 {
		for _, it := range admitted {
			if it.Alias != spec.KeyColumn && it.Alias != spec.ValueColumn {
				sourceColumns = append(sourceColumns, it.Alias)
			}
		}
	}
	if len(sourceColumns) == 0 {
		return "", nil, ErrNoUnpivotColumns
	}

	keyQuoted := ident.QuoteIdent(d, spec.KeyColumn)
	valueQuoted := ident.QuoteIdent(d, spec.ValueColumn)

	var parts []string
	for _, col := range sourceColumns {
		colQuoted := ident.QuoteIdent(d, col)
		var part strings.Builder
		fmt.Fprintf(&part, "SELECT s.*, %s AS %s, s.%s AS %s FROM %s AS s",
			ident.QuoteLiteral(col), keyQuoted, colQuoted, valueQuoted, quotedSource)
		if spec.OmitZeroNull {
			fmt.Fprintf(&part, " WHERE s.%s IS NOT NULL AND s.%s <> 0", colQuoted, colQuoted)
		}
		parts = append(parts, part.String())
	}

	unionSQL := "(" + strings.Join(parts, " UNION ALL ") + ") AS u"

	var cols []string
	if len(baseColumns) > 0 {
		cols = append(cols, baseColumns...)
		cols = append(cols, spec.KeyColumn, spec.ValueColumn)
	}
	return unionSQL, cols, nil
}
