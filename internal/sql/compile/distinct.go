package compile

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/where"
	"github.com/querysync/core/internal/types"
)

// Distinct compiles `SELECT DISTINCT field ... ORDER BY 1` against the
// composed `_base`. The WHERE excludes the queried field (to
// avoid circular filtering) and, since `_base` only exposes Base.Columns,
// drops any filter on a column `_base` doesn't expose rather than risk a
// broken reference.
func Distinct(d dialect.Kind, base Base, req types.DistinctRequest) (string, []any, []string, error) {
	var kept []types.Filter
	for _, f := range req.Where.Filters {
		if f.Field == req.Field {
			continue
		}
		if len(base.Columns) > 0 && !base.hasColumn(f.Field) {
			continue
		}
		kept = append(kept, f)
	}
	w := req.Where
	w.Filters = kept

	dims := map[string]bool{}
	hints := map[string]where.TypeHint{}
	for _, f := range kept {
		dims[f.Field] = true
		hints[f.Field] = typeHintFor(f.Field)
	}

	plan, err := where.Build(d, w, dims, "", hints)
	if err != nil {
		return "", nil, nil, err
	}

	fieldRef := fmt.Sprintf("_base.%s", ident.QuoteIdent(d, req.Field))
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT DISTINCT %s AS %s FROM %s", fieldRef, ident.QuoteIdent(d, req.Field), base.wrapped())
	if plan.Outer.SQL != "" {
		fmt.Fprintf(&b, " WHERE %s", plan.Outer.SQL)
	}
	b.WriteString(" ORDER BY 1")

	return b.String(), plan.Outer.Params, []string{req.Field}, nil
}
