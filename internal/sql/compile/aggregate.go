package compile

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/datepart"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/where"
	"github.com/querysync/core/internal/types"
)

// Aggregate compiles the chart aggregation entry point: a single grouped
// SELECT, or — when spec.Series has more than one entry — a UNION ALL of
// one grouped SELECT per series, wrapped in an outer ORDER BY/LIMIT.
func Aggregate(d dialect.Kind, base Base, spec types.QuerySpec) (string, []any, []string, error) {
	if len(spec.Series) > 1 {
		return aggregateMultiSeries(d, base, spec)
	}
	sql, params, hasX, hasLegend, err := aggregateOne(d, base, spec, nil)
	if err != nil {
		return "", nil, nil, err
	}
	sql += " ORDER BY " + orderClauseFor(spec.OrderBy, spec.Order, hasX, hasLegend)
	if spec.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", spec.Limit)
	}
	return sql, params, resultColumns(hasX, hasLegend), nil
}

func resultColumns(hasX, hasLegend bool) []string {
	var cols []string
	if hasX {
		cols = append(cols, "x")
	}
	if hasLegend {
		cols = append(cols, "legend")
	}
	return append(cols, "value")
}

// aggregateMultiSeries implements the UNION ALL branch: one grouped SELECT
// per series, each stamped with the series name as legend, unioned and
// re-ordered/limited as a whole.
func aggregateMultiSeries(d dialect.Kind, base Base, spec types.QuerySpec) (string, []any, []string, error) {
	var branches []string
	var allParams []any
	var hasX, hasLegend bool
	for i := range spec.Series {
		sql, params, seriesHasX, seriesHasLegend, err := aggregateOne(d, base, spec, &spec.Series[i])
		if err != nil {
			return "", nil, nil, err
		}
		branches = append(branches, sql)
		allParams = append(allParams, params...)
		hasX, hasLegend = seriesHasX, seriesHasLegend
	}
	sql := fmt.Sprintf("SELECT * FROM (%s) AS _series ORDER BY %s",
		strings.Join(branches, " UNION ALL "), orderClauseFor(spec.OrderBy, spec.Order, hasX, hasLegend))
	if spec.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", spec.Limit)
	}
	return sql, allParams, resultColumns(hasX, hasLegend), nil
}

// aggregateOne compiles one (x?, legend?, value) grouped SELECT with no
// trailing ORDER BY/LIMIT of its own — those are applied once by the caller,
// whether this is the only series or one arm of a UNION ALL.
func aggregateOne(d dialect.Kind, base Base, spec types.QuerySpec, series *types.Series) (sql string, params []any, hasX, hasLegend bool, err error) {
	valSpec := spec
	if series != nil {
		valSpec.Measure = ""
		valSpec.Y = series.Y
		valSpec.Agg = series.Agg
	}
	valExpr := valueExpr(d, valSpec)

	xE, _, _ := xExpr(d, spec.X, spec.GroupBy, spec.WeekStart)
	legendE := legendExpr(d, spec.Legend, spec.LegendArr, spec.WeekStart)
	hasLegend = legendE != ""
	hasX = xE != ""
	rowZero := !hasX && hasLegend
	if rowZero {
		xE = ident.QuoteLiteral("Total")
		hasX = true
	}

	if series != nil {
		if legendE == "" {
			legendE = ident.QuoteLiteral(series.Name)
		} else {
			legendE = concatExpr(d, []string{legendE, ident.QuoteLiteral(series.Name)}, " - ")
		}
		hasLegend = true
	}

	dims := dimensionSet(spec.X, spec.Legend)
	for _, f := range spec.LegendArr {
		for k := range dimensionSet(f) {
			dims[k] = true
		}
	}

	dateField := aggregateDateField(spec.X)
	hints := map[string]where.TypeHint{}
	if spec.X != "" {
		hints[spec.X] = typeHintFor(spec.X)
	}
	if spec.Legend != "" {
		hints[spec.Legend] = typeHintFor(spec.Legend)
	}
	for _, f := range spec.LegendArr {
		hints[f] = typeHintFor(f)
	}

	plan, err := where.Build(d, spec.Where, dims, dateField, hints)
	if err != nil {
		return "", nil, false, false, err
	}

	var selectParts, groupParts []string
	selectParts = append(selectParts, fmt.Sprintf("%s AS %s", xE, ident.QuoteIdent(d, "x")))
	if !rowZero {
		groupParts = append(groupParts, xE)
	}
	if hasLegend {
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", legendE, ident.QuoteIdent(d, "legend")))
		groupParts = append(groupParts, legendE)
	}
	selectParts = append(selectParts, fmt.Sprintf("%s AS %s", valExpr, ident.QuoteIdent(d, "value")))

	fromSQL, fromParams := applyInnerFilter(base, plan.Inner)

	var whereParts []string
	if plan.Outer.SQL != "" {
		whereParts = append(whereParts, plan.Outer.SQL)
	}
	if hasLegend {
		whereParts = append(whereParts, legendE+" IS NOT NULL")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selectParts, ", "), fromSQL)
	if len(whereParts) > 0 {
		fmt.Fprintf(&b, " WHERE %s", strings.Join(whereParts, " AND "))
	}
	if len(groupParts) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s", strings.Join(groupParts, ", "))
	}

	params = append(params, fromParams...)
	params = append(params, plan.Outer.Params...)
	return b.String(), params, hasX, hasLegend, nil
}

// aggregateDateField reports the plain column a Where's start/end/startDate/
// endDate shortcut binds against: the x-axis's underlying column when x is a
// derived date-part token or a bare column, empty when x is absent (the
// row-zero case has no axis to range-filter).
func aggregateDateField(x string) string {
	if tok, ok := datepart.ParseToken(x); ok {
		return tok.Column
	}
	return x
}

// applyInnerFilter wraps base so inner's filters apply before any
// grouping: non-dimension filters are injected as a WHERE inside
// `(...) AS _base`, here realized one level out since the composed base
// SQL text itself is immutable to this compiler.
func applyInnerFilter(base Base, inner where.Clause) (string, []any) {
	if inner.SQL == "" {
		return base.wrapped(), nil
	}
	return fmt.Sprintf("(SELECT * FROM (%s) AS _base_raw WHERE %s) AS _base", base.SQL, inner.SQL), inner.Params
}
