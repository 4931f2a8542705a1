// Package transform assembles the `_base` subquery a compiled query runs
// against, applying custom columns,
// computed/case/replace/translate/nullHandling transforms, joins, and
// scope defaults on top of a probed or assumed base column set.
package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/resolve"
	"github.com/querysync/core/internal/types"
)

// sourceAlias is the base-table alias every composed subquery uses, mirrored
// by resolve's reserved-token convention.
const sourceAlias = "s"

// Request bundles the composer's inputs.
type Request struct {
	Dialect    dialect.Kind
	Source     string
	BaseSelect []string
	// Items is the already scope-filtered ordered sequence (see
	// types.ForScope) of custom columns, transforms, joins, and defaults
	// that apply to this table/widget.
	Items []types.TransformItem
	Limit int
}

// Result is the composer's output: ready-to-wrap SQL plus the exact column
// set it evaluates to.
type Result struct {
	SQL      string
	Columns  []string
	Warnings []string
}

// Compose runs the seven-step composition algorithm and returns a
// subquery usable as `(sql) AS _base` by downstream compilers.
func Compose(ctx context.Context, req Request, probe Prober) (Result, error) {
	d := req.Dialect
	var warnings []string

	baseColumns, probed := runProbe(ctx, probe, req.Source, &warnings)
	available := map[string]bool{}
	for _, c := range baseColumns {
		available[c] = true
	}

	customCols, computed, plainTransforms, unpivots, joins, defaults := splitItems(req.Items)

	admittedAliases, w := admitAliased(customCols, computed, available, probed)
	warnings = append(warnings, w...)

	plainTransforms, w = filterPlainTransforms(plainTransforms, available, probed)
	warnings = append(warnings, w...)

	baseAlias := sourceAlias
	quotedSource := ident.QuoteSource(d, req.Source)
	fromExpr := fmt.Sprintf("%s AS %s", quotedSource, sourceAlias)

	var unionCols []string
	if len(unpivots) > 0 {
		if len(unpivots) > 1 {
			warnings = append(warnings, fmt.Sprintf("ignoring %d extra unpivot transform(s); only the first applies", len(unpivots)-1))
		}
		unionSQL, cols, err := buildUnpivot(d, quotedSource, unpivots[0], admittedAliases, baseColumns)
		if err != nil {
			return Result{}, err
		}
		fromExpr = unionSQL
		baseAlias = "u"
		unionCols = cols
	}

	overrides := buildOverrides(d, baseAlias, plainTransforms)
	selectList, resolvedColumns := buildProjection(d, baseAlias, req.BaseSelect, baseColumns, probed, admittedAliases, unionCols, overrides)

	joinClauses, joinProjections, joinColumns, joinWarnings := buildJoins(d, baseAlias, joins)
	warnings = append(warnings, joinWarnings...)
	selectList = append(selectList, joinProjections...)
	resolvedColumns = append(resolvedColumns, joinColumns...)

	selectList, resolvedColumns = dedupProjection(d, selectList, resolvedColumns)

	orderClause, limitN := applyDefaults(d, defaults, resolvedColumns)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selectList, ", "), fromExpr)
	for _, j := range joinClauses {
		fmt.Fprintf(&b, " %s", j)
	}
	if orderClause != "" {
		fmt.Fprintf(&b, " ORDER BY %s", orderClause)
	}
	if limitN > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limitN)
	}

	return Result{SQL: b.String(), Columns: resolvedColumns, Warnings: warnings}, nil
}

func runProbe(ctx context.Context, probe Prober, source string, warnings *[]string) ([]string, bool) {
	if probe == nil {
		return nil, false
	}
	cols, err := probe(ctx, source)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("column probe failed, skipping availability checks: %v", err))
		return nil, false
	}
	return cols, true
}

func splitItems(items []types.TransformItem) (
	customCols []types.CustomColumn,
	computed []types.Transform,
	plain []types.Transform,
	unpivots []types.Transform,
	joins []types.Join,
	defaults []types.Defaults,
) {
	for _, it := range items {
		switch it.Kind {
		case types.ItemCustomColumn:
			customCols = append(customCols, *it.CustomColumn)
		case types.ItemTransform:
			t := *it.Transform
			switch t.Kind {
			case types.TransformComputed:
				computed = append(computed, t)
			case types.TransformUnpivot:
				unpivots = append(unpivots, t)
			default:
				plain = append(plain, t)
			}
		case types.ItemJoin:
			joins = append(joins, *it.Join)
		case types.ItemDefaults:
			if it.Defaults != nil {
				defaults = append(defaults, *it.Defaults)
			}
		}
	}
	return
}

// admitAliased runs the resolver's fixed-point algorithm over custom columns and computed
// transforms, returning an ordered alias→expr map's admitted entries. When
// the base column set could not be probed, every item is admitted
// unconditionally (degrade gracefully).
func admitAliased(customCols []types.CustomColumn, computed []types.Transform, available map[string]bool, probed bool) ([]resolve.Item, []string) {
	var pending []resolve.Item
	for _, c := range customCols {
		pending = append(pending, resolve.Item{Alias: c.Name, Expr: c.Expr})
	}
	for _, t := range computed {
		pending = append(pending, resolve.Item{Alias: t.ComputedName, Expr: t.ComputedExpr})
	}
	if !probed {
		return pending, nil
	}
	return resolve.Resolve(pending, available)
}

func filterPlainTransforms(transforms []types.Transform, available map[string]bool, probed bool) ([]types.Transform, []string) {
	if !probed {
		return transforms, nil
	}
	var kept []types.Transform
	var warnings []string
	for _, t := range transforms {
		target := t.CaseTarget
		if target == "" {
			target = t.Target
		}
		if target == "" || available[target] {
			kept = append(kept, t)
		} else {
			warnings = append(warnings, fmt.Sprintf("dropped transform on %q: column not in base set", target))
		}
	}
	return kept, warnings
}
