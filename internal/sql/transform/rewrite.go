package transform

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/types"
)

// buildOverrides folds the kept case/replace/translate/nullHandling
// transforms into a target-column → replacement-expression map, applying
// them in sequence order. A later replace, translate or nullHandling on the
// same column chains on top of an earlier one; a case transform builds its
// expression from its own branches and replaces any earlier override.
func buildOverrides(d dialect.Kind, baseAlias string, transforms []types.Transform) map[string]string {
	overrides := map[string]string{}
	current := func(col string) string {
		if v, ok := overrides[col]; ok {
			return v
		}
		return baseAlias + "." + ident.QuoteIdent(d, col)
	}
	for _, t := range transforms {
		target, expr := buildTransformExpr(d, t, current)
		if target != "" {
			overrides[target] = expr
		}
	}
	return overrides
}

func buildTransformExpr(d dialect.Kind, t types.Transform, current func(col string) string) (target, expr string) {
	switch t.Kind {
	case types.TransformCase:
		return t.CaseTarget, buildCaseExpr(t)
	case types.TransformReplace:
		return t.Target, buildReplaceChain(current(t.Target), t.Search, t.Replace)
	case types.TransformTranslate:
		return t.Target, buildTranslateExpr(d, current(t.Target), t.Search, t.Replace)
	case types.TransformNullHandling:
		return t.Target, buildNullHandlingExpr(d, current(t.Target), t.NullMode, t.NullValue)
	default:
		return "", ""
	}
}

func buildCaseExpr(t types.Transform) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, w := range t.CaseWhens {
		fmt.Fprintf(&b, " WHEN %s %s %s THEN %s", w.WhenLeft, w.WhenOp, w.WhenRight, w.Then)
	}
	if t.CaseElse != "" {
		fmt.Fprintf(&b, " ELSE %s", t.CaseElse)
	}
	b.WriteString(" END")
	return b.String()
}

func buildReplaceChain(base string, search, replace []string) string {
	expr := base
	n := len(search)
	if len(replace) < n {
		n = len(replace)
	}
	for i := 0; i < n; i++ {
		expr = fmt.Sprintf("REPLACE(%s, %s, %s)", expr, ident.QuoteLiteral(search[i]), ident.QuoteLiteral(replace[i]))
	}
	return expr
}

// buildTranslateExpr emits a native TRANSLATE call on postgres-family
// dialects and an equivalent chained REPLACE everywhere else.
func buildTranslateExpr(d dialect.Kind, base string, search, replace []string) string {
	if dialect.CapabilitiesFor(d).NativeTranslate {
		return fmt.Sprintf("TRANSLATE(%s, %s, %s)", base,
			ident.QuoteLiteral(strings.Join(search, "")), ident.QuoteLiteral(strings.Join(replace, "")))
	}
	return buildReplaceChain(base, search, replace)
}

func buildNullHandlingExpr(d dialect.Kind, col string, mode types.NullHandlingMode, value string) string {
	switch mode {
	case types.NullIsNull:
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN %s ELSE %s END", col, value, col)
	case types.NullIfNull:
		fn := "COALESCE"
		switch d {
		case dialect.MySQL:
			fn = "IFNULL"
		case dialect.MSSQL:
			fn = "ISNULL"
		}
		return fmt.Sprintf("%s(%s, %s)", fn, col, value)
	default: // NullCoalesce
		return fmt.Sprintf("COALESCE(%s, %s)", col, value)
	}
}
