package compile

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/where"
	"github.com/querysync/core/internal/types"
)

// Pivot compiles one aggregated row per (rows ∪ cols) combination,
// identifiers aliased to their original user-facing names, collapsing to
// the canonical (x, legend, value) shape when there is exactly one row
// field and one column field (the Sankey case).
func Pivot(d dialect.Kind, base Base, req types.PivotRequest) (string, []any, []string, error) {
	fields := make([]string, 0, len(req.Rows)+len(req.Cols))
	fields = append(fields, req.Rows...)
	fields = append(fields, req.Cols...)

	dims := map[string]bool{}
	hints := map[string]where.TypeHint{}
	for _, f := range fields {
		for k := range dimensionSet(f) {
			dims[k] = true
		}
		hints[f] = typeHintFor(f)
	}

	plan, err := where.Build(d, req.Where, dims, "", hints)
	if err != nil {
		return "", nil, nil, err
	}
	fromSQL, fromParams := applyInnerFilter(base, plan.Inner)

	valExpr := pivotValueExpr(d, req.ValueField, req.Aggregator)

	var selectParts, groupParts, resultCols []string
	canonical := len(req.Rows) == 1 && len(req.Cols) == 1
	switch {
	case canonical:
		rowExpr, _, _ := xExpr(d, req.Rows[0], req.GroupBy, req.WeekStart)
		colExpr, _, _ := xExpr(d, req.Cols[0], req.GroupBy, req.WeekStart)
		selectParts = append(selectParts,
			fmt.Sprintf("%s AS %s", rowExpr, ident.QuoteIdent(d, "x")),
			fmt.Sprintf("%s AS %s", colExpr, ident.QuoteIdent(d, "legend")))
		groupParts = append(groupParts, rowExpr, colExpr)
		resultCols = append(resultCols, "x", "legend")
	default:
		for _, f := range fields {
			expr, _, _ := xExpr(d, f, req.GroupBy, req.WeekStart)
			selectParts = append(selectParts, fmt.Sprintf("%s AS %s", expr, ident.QuoteIdent(d, f)))
			groupParts = append(groupParts, expr)
			resultCols = append(resultCols, f)
		}
	}
	selectParts = append(selectParts, fmt.Sprintf("%s AS %s", valExpr, ident.QuoteIdent(d, "value")))
	resultCols = append(resultCols, "value")

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selectParts, ", "), fromSQL)
	if plan.Outer.SQL != "" {
		fmt.Fprintf(&b, " WHERE %s", plan.Outer.SQL)
	}
	if len(groupParts) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s", strings.Join(groupParts, ", "))
		positions := make([]string, len(groupParts))
		for i := range groupParts {
			positions[i] = fmt.Sprintf("%d", i+1)
		}
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(positions, ", "))
	}
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
	}

	params := append(append([]any{}, fromParams...), plan.Outer.Params...)
	return b.String(), params, resultCols, nil
}

// pivotValueExpr mirrors valueExpr's aggregator dispatch for PivotRequest,
// which carries a bare value field and aggregator rather than a measure.
func pivotValueExpr(d dialect.Kind, field string, agg types.Agg) string {
	if field == "" {
		return "COUNT(*)"
	}
	switch agg {
	case types.AggCount:
		return "COUNT(*)"
	case types.AggDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", quotedRef(d, field))
	case types.AggSum, types.AggAvg, types.AggMin, types.AggMax:
		return fmt.Sprintf("%s(%s)", strings.ToUpper(string(agg)), ident.Numericify(d, quotedRef(d, field)))
	default:
		return "COUNT(*)"
	}
}
