package compile

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/where"
	"github.com/querysync/core/internal/types"
)

// PeriodTotals compiles a single-window aggregation: value totals
// restricted to `dateField ∈ [start, end)`, grouped by legend when
// present (returning a {k→v} map to the caller) or a single scalar total.
func PeriodTotals(d dialect.Kind, base Base, req types.PeriodTotalsRequest) (string, []any, []string, error) {
	return buildWindow(d, base, req, req.Start, req.End)
}

// PeriodTotalsCompare runs the same aggregation twice — once over the
// current window, once over the caller-supplied previous window. The two
// statements are independent; the caller executes both and assembles
// `{cur, prev}`.
func PeriodTotalsCompare(d dialect.Kind, base Base, req types.PeriodTotalsRequest) (curSQL string, curParams []any, prevSQL string, prevParams []any, columns []string, err error) {
	curSQL, curParams, columns, err = buildWindow(d, base, req, req.Start, req.End)
	if err != nil {
		return "", nil, "", nil, nil, err
	}
	if req.PrevStart == nil || req.PrevEnd == nil {
		return curSQL, curParams, "", nil, columns, nil
	}
	prevSQL, prevParams, _, err = buildWindow(d, base, req, *req.PrevStart, *req.PrevEnd)
	if err != nil {
		return "", nil, "", nil, nil, err
	}
	return curSQL, curParams, prevSQL, prevParams, columns, nil
}

func buildWindow(d dialect.Kind, base Base, req types.PeriodTotalsRequest, start, end string) (string, []any, []string, error) {
	caps := dialect.CapabilitiesFor(d)

	valSpec := types.QuerySpec{Y: req.Y, Measure: req.Measure, Agg: req.Agg}
	valExpr := valueExpr(d, valSpec)
	legendE := legendExpr(d, req.Legend, nil, req.WeekStart)
	hasLegend := legendE != ""

	dims := dimensionSet(req.Legend)
	hints := map[string]where.TypeHint{}
	if req.Legend != "" {
		hints[req.Legend] = typeHintFor(req.Legend)
	}

	plan, err := where.Build(d, req.Where, dims, "", hints)
	if err != nil {
		return "", nil, nil, err
	}
	fromSQL, fromParams := applyInnerFilter(base, plan.Inner)

	idx := len(fromParams) + len(plan.Outer.Params) + 1
	dateCol := req.DateField
	startPh := caps.Placeholder(idx)
	idx++
	endPh := caps.Placeholder(idx)

	var whereParts []string
	if plan.Outer.SQL != "" {
		whereParts = append(whereParts, plan.Outer.SQL)
	}
	whereParts = append(whereParts, fmt.Sprintf("%s >= %s AND %s < %s", dateCol, startPh, dateCol, endPh))
	if hasLegend {
		whereParts = append(whereParts, legendE+" IS NOT NULL")
	}

	var selectParts, groupParts []string
	if hasLegend {
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", legendE, ident.QuoteIdent(d, "legend")))
		groupParts = append(groupParts, legendE)
	}
	selectParts = append(selectParts, fmt.Sprintf("%s AS %s", valExpr, ident.QuoteIdent(d, "value")))

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selectParts, ", "), fromSQL)
	fmt.Fprintf(&b, " WHERE %s", strings.Join(whereParts, " AND "))
	if len(groupParts) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s", strings.Join(groupParts, ", "))
	}

	params := append(append([]any{}, fromParams...), plan.Outer.Params...)
	params = append(params, start, end)

	var cols []string
	if hasLegend {
		cols = append(cols, "legend")
	}
	cols = append(cols, "value")
	return b.String(), params, cols, nil
}
