package transform

import (
	"fmt"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/resolve"
)

// buildProjection emits the composer's projection step. When baseSelect
// asks for everything it enumerates the unpivot or probed column set
// (through any overrides), falling back to `<baseAlias>.*` only when
// neither is known; otherwise it emits only the requested base columns.
// Every admitted alias follows, never re-projecting a base column whose
// name collides with an alias.
func buildProjection(d dialect.Kind, baseAlias string, baseSelect, baseColumns []string, probed bool, admitted []resolve.Item, unionCols []string, overrides map[string]string) (selectList, resolvedColumns []string) {
	aliasSet := make(map[string]bool, len(admitted))
	for _, it := range admitted {
		aliasSet[it.Alias] = true
	}
	projectCol := func(c string) string {
		if expr, ok := overrides[c]; ok {
			return expr
		}
		return baseAlias + "." + ident.QuoteIdent(d, c)
	}

	if containsStar(baseSelect) {
		switch {
		case len(unionCols) > 0:
			// An unpivot rewrote the FROM clause; its column set
			// (original columns plus key/value) supersedes the
			// pre-unpivot probe result.
			for _, c := range unionCols {
				selectList = append(selectList, fmt.Sprintf("%s AS %s", projectCol(c), ident.QuoteIdent(d, c)))
				resolvedColumns = append(resolvedColumns, c)
			}
		case probed:
			for _, c := range baseColumns {
				selectList = append(selectList, fmt.Sprintf("%s AS %s", projectCol(c), ident.QuoteIdent(d, c)))
				resolvedColumns = append(resolvedColumns, c)
			}
		default:
			// Column set unknowable without a probe: fall back to the
			// glob shorthand verbatim; callers must not rely on an
			// enumerated resolvedColumns in this case.
			selectList = append(selectList, baseAlias+".*")
			resolvedColumns = append(resolvedColumns, "*")
		}
	} else {
		for _, name := range baseSelect {
			if name == "*" || aliasSet[name] {
				continue
			}
			selectList = append(selectList, fmt.Sprintf("%s AS %s", projectCol(name), ident.QuoteIdent(d, name)))
			resolvedColumns = append(resolvedColumns, name)
		}
	}

	for _, it := range admitted {
		quotedAlias := ident.QuoteIdent(d, it.Alias)
		selectList = append(selectList, fmt.Sprintf("%s AS %s", it.Expr, quotedAlias))
		resolvedColumns = append(resolvedColumns, it.Alias)
	}
	return selectList, resolvedColumns
}

func containsStar(cols []string) bool {
	for _, c := range cols {
		if c == "*" {
			return true
		}
	}
	return false
}

// dedupProjection removes projected expressions whose quoted identity
// (the alias/column name, dialect-quoted) repeats, keeping the first
// occurrence.
func dedupProjection(d dialect.Kind, selectList, resolvedColumns []string) ([]string, []string) {
	seen := make(map[string]bool, len(resolvedColumns))
	var outSelect, outColumns []string
	for i, name := range resolvedColumns {
		key := ident.QuoteIdent(d, name)
		if seen[key] {
			continue
		}
		seen[key] = true
		outSelect = append(outSelect, selectList[i])
		outColumns = append(outColumns, name)
	}
	return outSelect, outColumns
}
