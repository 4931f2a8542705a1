// Package compile turns a QuerySpec and a composed `_base` subquery into
// final SQL across the four request shapes (aggregation, pivot, distinct,
// period totals), sharing value-expression, bucketing, and
// legend-concatenation helpers.
package compile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querysync/core/internal/sql/datepart"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/where"
	"github.com/querysync/core/internal/types"
)

// Base is the composed subquery a compiler wraps, plus the column set it
// exposes — the output of the transform pipeline's composition step.
type Base struct {
	SQL     string
	Columns []string
}

// wrapped returns Base.SQL wrapped as `(...) AS _base`, usable as a FROM
// target.
func (b Base) wrapped() string {
	return "(" + b.SQL + ") AS _base"
}

func (b Base) hasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// quotedRef quotes a column reference for d. It never adds a `_base.`
// qualifier, whether or not col is one of the composed base's columns;
// callers that need one add it themselves.
func quotedRef(d dialect.Kind, col string) string {
	return ident.QuoteIdent(d, col)
}

var reAggregatePrefix = regexp.MustCompile(`(?i)^\s*(SUM|COUNT|AVG|MIN|MAX)\s*\(`)
var reTrailingAlias = regexp.MustCompile(`(?i)\s+AS\s+[A-Za-z_][A-Za-z0-9_]*\s*$`)

func isAggregatedExpr(expr string) bool {
	return reAggregatePrefix.MatchString(expr)
}

func stripTrailingAlias(expr string) string {
	return reTrailingAlias.ReplaceAllString(expr, "")
}

// valueExpr builds the aggregated value expression: an explicit measure
// wins (verbatim, alias-stripped unless already an aggregate call);
// otherwise derive from (agg, y), degrading to COUNT(*) when both are
// absent.
func valueExpr(d dialect.Kind, spec types.QuerySpec) string {
	if spec.Measure != "" {
		if isAggregatedExpr(spec.Measure) {
			return spec.Measure
		}
		return stripTrailingAlias(spec.Measure)
	}
	if spec.Y == "" {
		return "COUNT(*)"
	}
	switch spec.Agg {
	case types.AggCount:
		return "COUNT(*)"
	case types.AggDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", quotedRef(d, spec.Y))
	case types.AggSum, types.AggAvg, types.AggMin, types.AggMax:
		return fmt.Sprintf("%s(%s)", strings.ToUpper(string(spec.Agg)), ident.Numericify(d, quotedRef(d, spec.Y)))
	default:
		return "COUNT(*)"
	}
}

// xExpr resolves the X-axis expression: a derived date-part token,
// groupBy bucketing, or a plain column — returning the display expression,
// a companion numeric ordering expression (for label-order correctness on
// string date parts), and whether the value is string-typed.
func xExpr(d dialect.Kind, x string, groupBy types.GroupBy, weekStart string) (expr, orderExpr string, isString bool) {
	if tok, ok := datepart.ParseToken(x); ok {
		ws := toWeekStart(weekStart)
		col := quotedRef(d, tok.Column)
		expr = datepart.Expr(d, col, tok.Part, ws)
		orderExpr = datepart.OrderExpr(d, col, tok.Part, ws)
		return expr, orderExpr, tok.Part.IsString()
	}
	if x == "" {
		return "", "", false
	}
	col := quotedRef(d, x)
	if groupBy != types.GroupNone && groupBy != "" {
		b := bucketExpr(d, col, groupBy)
		return b, b, false
	}
	return col, col, false
}

func toWeekStart(s string) datepart.WeekStart {
	if s == string(datepart.Sunday) {
		return datepart.Sunday
	}
	return datepart.Monday
}

// bucketExpr emits the dialect-appropriate DATE_TRUNC-equivalent bucketing
// for groupBy granularities day/week/month/quarter/year.
func bucketExpr(d dialect.Kind, col string, gb types.GroupBy) string {
	unit := map[types.GroupBy]string{
		types.GroupDay: "day", types.GroupWeek: "week", types.GroupMonth: "month",
		types.GroupQuarter: "quarter", types.GroupYear: "year",
	}[gb]
	if unit == "" {
		return col
	}
	switch d {
	case dialect.Postgres, dialect.EmbeddedColumnar:
		return fmt.Sprintf("DATE_TRUNC('%s', %s)", unit, col)
	case dialect.MySQL:
		return mysqlTrunc(col, unit)
	case dialect.MSSQL:
		return mssqlTrunc(col, unit)
	case dialect.SQLite:
		return sqliteTrunc(col, unit)
	default:
		return col
	}
}

func mysqlTrunc(col, unit string) string {
	switch unit {
	case "day":
		return fmt.Sprintf("DATE(%s)", col)
	case "week":
		return fmt.Sprintf("DATE_SUB(DATE(%s), INTERVAL WEEKDAY(%s) DAY)", col, col)
	case "month":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-01')", col)
	case "quarter":
		return fmt.Sprintf("MAKEDATE(YEAR(%s), 1) + INTERVAL (QUARTER(%s)-1) QUARTER", col, col)
	case "year":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-01-01')", col)
	default:
		return col
	}
}

func mssqlTrunc(col, unit string) string {
	switch unit {
	case "day":
		return fmt.Sprintf("CAST(%s AS DATE)", col)
	case "week":
		return fmt.Sprintf("DATEADD(DAY, -DATEPART(WEEKDAY, %s) + 1, CAST(%s AS DATE))", col, col)
	case "month":
		return fmt.Sprintf("DATEFROMPARTS(YEAR(%s), MONTH(%s), 1)", col, col)
	case "quarter":
		return fmt.Sprintf("DATEFROMPARTS(YEAR(%s), ((DATEPART(QUARTER, %s)-1)*3)+1, 1)", col, col)
	case "year":
		return fmt.Sprintf("DATEFROMPARTS(YEAR(%s), 1, 1)", col)
	default:
		return col
	}
}

func sqliteTrunc(col, unit string) string {
	switch unit {
	case "day":
		return fmt.Sprintf("date(%s)", col)
	case "week":
		return fmt.Sprintf("date(%s, 'weekday 0', '-7 days')", col)
	case "month":
		return fmt.Sprintf("date(%s, 'start of month')", col)
	case "quarter":
		return fmt.Sprintf("date(%s, 'start of month', printf('-%%d months', (strftime('%%m', %s)-1) %% 3))", col, col)
	case "year":
		return fmt.Sprintf("date(%s, 'start of year')", col)
	default:
		return col
	}
}

// legendExpr builds the legend expression for a single field or, for
// arrays, a dialect-appropriate concatenation joined with " - ".
func legendExpr(d dialect.Kind, field string, arr []string, weekStart string) string {
	if len(arr) == 0 {
		if field == "" {
			return ""
		}
		expr, _, _ := xExpr(d, field, types.GroupNone, weekStart)
		return expr
	}
	parts := make([]string, len(arr))
	for i, f := range arr {
		expr, _, isStr := xExpr(d, f, types.GroupNone, weekStart)
		if !isStr {
			expr = castToText(d, expr)
		}
		parts[i] = expr
	}
	return concatExpr(d, parts, " - ")
}

func castToText(d dialect.Kind, expr string) string {
	switch d {
	case dialect.MSSQL:
		return fmt.Sprintf("CAST(%s AS NVARCHAR(4000))", expr)
	case dialect.MySQL:
		return fmt.Sprintf("CAST(%s AS CHAR)", expr)
	default:
		return fmt.Sprintf("CAST(%s AS TEXT)", expr)
	}
}

func concatExpr(d dialect.Kind, parts []string, sep string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	quotedSep := ident.QuoteLiteral(sep)
	switch d {
	case dialect.MySQL:
		args := make([]string, 0, len(parts)*2-1)
		for i, p := range parts {
			if i > 0 {
				args = append(args, quotedSep)
			}
			args = append(args, p)
		}
		return fmt.Sprintf("CONCAT(%s)", strings.Join(args, ", "))
	default: // postgres, embedded, sqlite, mssql all support `||`
		return strings.Join(parts, " || "+quotedSep+" || ")
	}
}

// orderClauseFor maps orderBy/order into a positional ORDER BY clause
// over an (x?, legend?, value) projection.
func orderClauseFor(orderBy types.OrderBy, order string, hasX, hasLegend bool) string {
	dir := "ASC"
	if strings.EqualFold(order, "desc") {
		dir = "DESC"
	}
	pos := 1
	switch orderBy {
	case types.OrderByValue:
		pos = boolToCount(hasX) + boolToCount(hasLegend) + 1
	case types.OrderByLegend:
		if hasLegend {
			pos = boolToCount(hasX) + 1
		}
	default: // OrderByX, or default dimension ascending
		pos = 1
		if !hasX && hasLegend {
			pos = 1
		}
	}
	return fmt.Sprintf("%d %s", pos, dir)
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

// dimensionSet builds the outer-query dimension column set used by the
// WHERE planner's inner/outer split, from the raw (possibly
// derived-token) field names.
func dimensionSet(fields ...string) map[string]bool {
	set := map[string]bool{}
	for _, f := range fields {
		if f == "" {
			continue
		}
		set[f] = true
		if tok, ok := datepart.ParseToken(f); ok {
			set[tok.Column] = true
		}
	}
	return set
}

func typeHintFor(field string) where.TypeHint {
	if tok, ok := datepart.ParseToken(field); ok {
		if tok.Part.IsString() {
			return where.HintString
		}
		return where.HintInt
	}
	return where.HintNone
}
