package transform

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/types"
)

// buildJoins emits the composer's join step: one JOIN clause per valid
// join item, aggregate joins as a grouped subquery, lateral joins
// correlated via a WHERE built from their correlation list.
func buildJoins(d dialect.Kind, baseAlias string, joins []types.Join) (clauses, projections, columns, warnings []string) {
	for i, j := range joins {
		alias := fmt.Sprintf("j%d", i+1)
		switch {
		case j.Type == types.JoinLateral:
			clause, projs, cols, err := buildLateralJoin(d, baseAlias, alias, j)
			if err != nil {
				warnings = append(warnings, err.Error())
				continue
			}
			clauses = append(clauses, clause)
			projections = append(projections, projs...)
			columns = append(columns, cols...)
		case j.Aggregate != nil:
			clause, projs, cols := buildAggregateJoin(d, baseAlias, alias, j)
			clauses = append(clauses, clause)
			projections = append(projections, projs...)
			columns = append(columns, cols...)
		default:
			clause, projs, cols := buildPlainJoin(d, baseAlias, alias, j)
			clauses = append(clauses, clause)
			projections = append(projections, projs...)
			columns = append(columns, cols...)
		}
	}
	return
}

func joinKeyword(t types.JoinType) string {
	switch t {
	case types.JoinInner:
		return "INNER"
	case types.JoinRight:
		return "RIGHT"
	default:
		return "LEFT"
	}
}

func buildPlainJoin(d dialect.Kind, baseAlias, joinAlias string, j types.Join) (clause string, projections, columns []string) {
	onCond := fmt.Sprintf("%s.%s = %s.%s",
		baseAlias, ident.QuoteIdent(d, j.SourceKey),
		joinAlias, ident.QuoteIdent(d, j.TargetKey))
	if j.Filter != "" {
		onCond += " AND (" + j.Filter + ")"
	}
	clause = fmt.Sprintf("%s JOIN %s AS %s ON %s",
		joinKeyword(j.Type), ident.QuoteSource(d, j.TargetTable), joinAlias, onCond)

	for _, col := range j.Columns {
		q := ident.QuoteIdent(d, col)
		projections = append(projections, fmt.Sprintf("%s.%s AS %s", joinAlias, q, q))
		columns = append(columns, col)
	}
	return clause, projections, columns
}

func buildAggregateJoin(d dialect.Kind, baseAlias, joinAlias string, j types.Join) (clause string, projections, columns []string) {
	agg := j.Aggregate
	aggExpr := fmt.Sprintf("%s(%s)", strings.ToUpper(agg.Fn), ident.QuoteIdent(d, agg.Column))
	quotedAggAlias := ident.QuoteIdent(d, agg.Alias)
	quotedTargetKey := ident.QuoteIdent(d, j.TargetKey)

	var sub strings.Builder
	fmt.Fprintf(&sub, "SELECT %s, %s AS %s FROM %s",
		quotedTargetKey, aggExpr, quotedAggAlias, ident.QuoteSource(d, j.TargetTable))
	if j.Filter != "" {
		fmt.Fprintf(&sub, " WHERE %s", j.Filter)
	}
	fmt.Fprintf(&sub, " GROUP BY %s", quotedTargetKey)

	clause = fmt.Sprintf("%s JOIN (%s) AS %s ON %s.%s = %s.%s",
		joinKeyword(j.Type), sub.String(), joinAlias,
		baseAlias, ident.QuoteIdent(d, j.SourceKey), joinAlias, quotedTargetKey)

	projections = append(projections, fmt.Sprintf("%s.%s AS %s", joinAlias, quotedAggAlias, quotedAggAlias))
	columns = append(columns, agg.Alias)
	return clause, projections, columns
}

func buildLateralJoin(d dialect.Kind, baseAlias, joinAlias string, j types.Join) (clause string, projections, columns []string, err error) {
	const innerAlias = "t"
	var conds []string
	for _, c := range j.Correlations {
		conds = append(conds, fmt.Sprintf("%s.%s %s %s.%s",
			baseAlias, ident.QuoteIdent(d, c.SourceCol), c.Op, innerAlias, ident.QuoteIdent(d, c.TargetCol)))
	}
	if j.Filter != "" {
		conds = append(conds, "("+j.Filter+")")
	}

	selectCols := "*"
	if len(j.Columns) > 0 {
		quoted := make([]string, len(j.Columns))
		for i, c := range j.Columns {
			quoted[i] = ident.QuoteIdent(d, c)
		}
		selectCols = strings.Join(quoted, ", ")
	}

	var sub strings.Builder
	fmt.Fprintf(&sub, "SELECT %s FROM %s AS %s", selectCols, ident.QuoteSource(d, j.TargetTable), innerAlias)
	if len(conds) > 0 {
		fmt.Fprintf(&sub, " WHERE %s", strings.Join(conds, " AND "))
	}
	if j.OrderBy != "" {
		fmt.Fprintf(&sub, " ORDER BY %s", ident.QuoteIdent(d, j.OrderBy))
	}
	if j.Limit > 0 {
		fmt.Fprintf(&sub, " LIMIT %d", j.Limit)
	}

	clause = fmt.Sprintf("LEFT JOIN LATERAL (%s) AS %s ON TRUE", sub.String(), joinAlias)
	for _, col := range j.Columns {
		q := ident.QuoteIdent(d, col)
		projections = append(projections, fmt.Sprintf("%s.%s AS %s", joinAlias, q, q))
		columns = append(columns, col)
	}
	return clause, projections, columns, nil
}
