// Package where turns the operator-suffix filter DSL into dialect-
// parameterized SQL fragments and splits filters between a pivot/
// transform base subquery and its outer grouping query.
package where

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/types"
)

// Operator suffixes recognized in "field__op" keys.
const (
	OpEq          = ""
	OpNe          = "ne"
	OpGt          = "gt"
	OpGte         = "gte"
	OpLt          = "lt"
	OpLte         = "lte"
	OpContains    = "contains"
	OpStartsWith  = "startswith"
	OpEndsWith    = "endswith"
	OpNotContains = "notcontains"
)

var knownOps = map[string]bool{
	OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true, OpNotContains: true,
}

// ReservedKeys are not column filters; they drive date-range shortcuts
// instead.
var ReservedKeys = map[string]bool{
	"start": true, "end": true, "startDate": true, "endDate": true,
}

var reInvalidParamChar = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ParseKey splits a raw "field__op" request key into its column field and
// operator. An unrecognized or absent suffix yields the equality operator
// and treats the whole key as the field name.
func ParseKey(key string) (field, op string) {
	if idx := strings.LastIndex(key, "__"); idx >= 0 {
		suffix := key[idx+2:]
		if knownOps[suffix] {
			return key[:idx], suffix
		}
	}
	return key, OpEq
}

// SanitizeParamName maps a field name to a safe bind-parameter name:
// non-identifier characters become `_`, prefixed `w_` to avoid collisions
// with parameters from other compiler stages.
func SanitizeParamName(field string) string {
	return "w_" + reInvalidParamChar.ReplaceAllString(field, "_")
}

// Clause is one compiled WHERE fragment plus its positional parameters.
type Clause struct {
	SQL    string
	Params []any
}

// Plan is the split result: inner applies inside the `(...) AS _base`
// subquery, outer applies to the wrapping query.
type Plan struct {
	Inner Clause
	Outer Clause
}

// TypeHint coerces a column's filter values to match a derived expression's
// return type (e.g. a date-part projection).
type TypeHint string

// The two coercion targets.
const (
	HintNone   TypeHint = ""
	HintInt    TypeHint = "int"
	HintString TypeHint = "string"
)

// Build compiles a Where DSL value into a split Plan.
//
// dimensionSet names the outer query's grouping/dimension columns: filters
// on those columns are retained outer; every other filter (and the
// start/end date-range shortcut, when dateField is non-empty) is pushed
// inner. typeHints maps field name to a derived-expression type for value
// coercion; fields absent from the map are treated as plain columns.
func Build(d dialect.Kind, w types.Where, dimensionSet map[string]bool, dateField string, typeHints map[string]TypeHint) (Plan, error) {
	caps := dialect.CapabilitiesFor(d)

	var innerFilters, outerFilters []types.Filter
	for _, f := range w.Filters {
		if dimensionSet[f.Field] {
			outerFilters = append(outerFilters, f)
		} else {
			innerFilters = append(innerFilters, f)
		}
	}

	// Inner fragments are always textually nested inside `(...) AS _base`,
	// ahead of the outer query's own WHERE; placeholders are numbered inner
	// group first, then outer, so positional ("?") and numbered ("$n")
	// dialects both bind args in the order this Plan's callers concatenate
	// Inner.Params then Outer.Params.
	idx := 1
	var innerParts []string
	var innerParams []any
	for _, f := range innerFilters {
		hint := typeHints[f.Field]
		frag, params, next, err := buildFilter(caps, idx, f, hint)
		if err != nil {
			return Plan{}, err
		}
		idx = next
		innerParts = append(innerParts, frag)
		innerParams = append(innerParams, params...)
	}

	if dateField != "" {
		if w.Start != nil {
			ph := caps.Placeholder(idx)
			idx++
			innerParts = append(innerParts, fmt.Sprintf("%s >= %s", dateField, ph))
			innerParams = append(innerParams, *w.Start)
		}
		if w.End != nil {
			ph := caps.Placeholder(idx)
			idx++
			innerParts = append(innerParts, fmt.Sprintf("%s <= %s", dateField, ph))
			innerParams = append(innerParams, *w.End)
		}
		if w.StartDate != nil {
			ph := caps.Placeholder(idx)
			idx++
			innerParts = append(innerParts, fmt.Sprintf("%s >= %s", dateField, ph))
			innerParams = append(innerParams, *w.StartDate)
		}
		if w.EndDate != nil {
			ph := caps.Placeholder(idx)
			idx++
			innerParts = append(innerParts, fmt.Sprintf("%s <= %s", dateField, ph))
			innerParams = append(innerParams, *w.EndDate)
		}
	}

	var outerParts []string
	var outerParams []any
	for _, f := range outerFilters {
		hint := typeHints[f.Field]
		frag, params, next, err := buildFilter(caps, idx, f, hint)
		if err != nil {
			return Plan{}, err
		}
		idx = next
		outerParts = append(outerParts, frag)
		outerParams = append(outerParams, params...)
	}

	return Plan{
		Inner: Clause{SQL: strings.Join(innerParts, " AND "), Params: innerParams},
		Outer: Clause{SQL: strings.Join(outerParts, " AND "), Params: outerParams},
	}, nil
}

func buildFilter(caps dialect.Capabilities, startIdx int, f types.Filter, hint TypeHint) (string, []any, int, error) {
	idx := startIdx
	next := func() string {
		ph := caps.Placeholder(idx)
		idx++
		return ph
	}

	if f.Value == nil {
		if f.Op == OpNe {
			return fmt.Sprintf("%s IS NOT NULL", f.Field), nil, idx, nil
		}
		return fmt.Sprintf("%s IS NULL", f.Field), nil, idx, nil
	}

	var frag string
	var params []any

	switch f.Op {
	case OpEq:
		if arr, ok := asSlice(f.Value); ok {
			frag, params = buildIn(f.Field, arr, hint, next)
		} else {
			frag, params = buildCompare(f.Field, "=", coerce(f.Value, hint), hint, next)
		}
	case OpNe:
		if arr, ok := asSlice(f.Value); ok {
			var parts []string
			for _, v := range arr {
				p, ps := buildCompare(f.Field, "<>", coerce(v, hint), hint, next)
				parts = append(parts, p)
				params = append(params, ps...)
			}
			frag = "(" + strings.Join(parts, " AND ") + ")"
		} else {
			frag, params = buildCompare(f.Field, "<>", coerce(f.Value, hint), hint, next)
		}
	case OpGt:
		frag, params = buildCompare(f.Field, ">", coerce(f.Value, hint), hint, next)
	case OpGte:
		frag, params = buildCompare(f.Field, ">=", coerce(f.Value, hint), hint, next)
	case OpLt:
		frag, params = buildCompare(f.Field, "<", coerce(f.Value, hint), hint, next)
	case OpLte:
		frag, params = buildCompare(f.Field, "<=", coerce(f.Value, hint), hint, next)
	case OpContains:
		frag, params = buildLike(f.Field, "LIKE", "%"+fmt.Sprint(f.Value)+"%", next)
	case OpStartsWith:
		frag, params = buildLike(f.Field, "LIKE", fmt.Sprint(f.Value)+"%", next)
	case OpEndsWith:
		frag, params = buildLike(f.Field, "LIKE", "%"+fmt.Sprint(f.Value), next)
	case OpNotContains:
		frag, params = buildLike(f.Field, "NOT LIKE", "%"+fmt.Sprint(f.Value)+"%", next)
	default:
		return "", nil, idx, fmt.Errorf("where: unknown operator %q", f.Op)
	}
	return frag, params, idx, nil
}

func buildIn(field string, values []any, hint TypeHint, next func() string) (string, []any) {
	placeholders := make([]string, len(values))
	params := make([]any, len(values))
	lower := hint != HintInt && isStringSlice(values)
	for i, v := range values {
		ph := next()
		if lower {
			placeholders[i] = fmt.Sprintf("LOWER(%s)", ph)
		} else {
			placeholders[i] = ph
		}
		params[i] = coerce(v, hint)
	}
	col := field
	if lower {
		col = fmt.Sprintf("LOWER(%s)", field)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), params
}

func buildCompare(field, op string, value any, hint TypeHint, next func() string) (string, []any) {
	ph := next()
	if _, isStr := value.(string); isStr && hint != HintInt {
		return fmt.Sprintf("LOWER(%s) %s LOWER(%s)", field, op, ph), []any{value}
	}
	return fmt.Sprintf("%s %s %s", field, op, ph), []any{value}
}

func buildLike(field, op, pattern string, next func() string) (string, []any) {
	ph := next()
	return fmt.Sprintf("LOWER(%s) %s LOWER(%s)", field, op, ph), []any{pattern}
}

func asSlice(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

func isStringSlice(values []any) bool {
	for _, v := range values {
		if _, ok := v.(string); ok {
			return true
		}
	}
	return false
}

func coerce(v any, hint TypeHint) any {
	if hint != HintInt {
		return v
	}
	switch t := v.(type) {
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
		return t
	default:
		return v
	}
}
