// Package resolve builds an alias → expression map from scope-filtered
// custom columns, computed transforms, and join-projected columns,
// admitting each item only once every identifier it references is
// available.
package resolve

import (
	"fmt"
	"regexp"
	"strings"
)

// reservedAlias is the base-table alias the resolver never treats as a
// column reference.
const reservedAlias = "s"

var (
	reBracket  = regexp.MustCompile(`\[([A-Za-z_][A-Za-z0-9_]*)\]`)
	reDQuote   = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"`)
	reBacktick = regexp.MustCompile("`([A-Za-z_][A-Za-z0-9_]*)`")
	reQualified = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\.([A-Za-z_][A-Za-z0-9_]*)\b`)
	reBareCall  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	reBare      = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)
)

// sqlKeywords are tokens ExtractReferences never treats as column
// identifiers even when they appear bare in an expression.
var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "NULL": true, "IS": true, "IN": true, "LIKE": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"AS": true, "ASC": true, "DESC": true, "BETWEEN": true, "EXISTS": true,
	"DISTINCT": true, "ON": true, "JOIN": true, "LEFT": true, "RIGHT": true,
	"INNER": true, "OUTER": true, "GROUP": true, "BY": true, "ORDER": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "UNION": true, "ALL": true,
	"TRUE": true, "FALSE": true, "INTERVAL": true, "OVER": true,
	"PARTITION": true,
}

// sqlFunctions are call-position tokens (immediately followed by `(`) that
// ExtractReferences discards rather than treating as a zero-arg column
// reference.
var sqlFunctions = map[string]bool{
	"CAST": true, "TRY_CAST": true, "CONVERT": true, "COALESCE": true,
	"SUM": true, "COUNT": true, "AVG": true, "MIN": true, "MAX": true,
	"EXTRACT": true, "ROW_NUMBER": true, "LOWER": true, "UPPER": true,
	"TRIM": true, "REPLACE": true, "TRANSLATE": true, "CONCAT": true,
	"SUBSTRING": true, "STRFTIME": true, "DATE_TRUNC": true, "DATEPART": true,
	"DATENAME": true, "ROUND": true, "ABS": true, "NOW": true, "IFNULL": true,
	"ISNULL": true, "NULLIF": true,
}

// ExtractReferences scans expr lexer-style for identifiers it depends on:
// bracketed ([col]), double- or backtick-quoted ("col", `col`), qualified
// (alias.col, stripped to col), and bare identifiers not used in call
// position and not a SQL keyword. The reserved base alias "s" is always
// discarded. Results are de-duplicated, preserving first-seen order.
func ExtractReferences(expr string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ident string) {
		if ident == "" || ident == reservedAlias || seen[ident] {
			return
		}
		upper := strings.ToUpper(ident)
		if sqlKeywords[upper] || sqlFunctions[upper] {
			return
		}
		seen[ident] = true
		out = append(out, ident)
	}

	remaining := expr
	for _, m := range reBracket.FindAllStringSubmatch(remaining, -1) {
		add(m[1])
	}
	remaining = reBracket.ReplaceAllString(remaining, " ")
	for _, m := range reDQuote.FindAllStringSubmatch(remaining, -1) {
		add(m[1])
	}
	remaining = reDQuote.ReplaceAllString(remaining, " ")
	for _, m := range reBacktick.FindAllStringSubmatch(remaining, -1) {
		add(m[1])
	}
	remaining = reBacktick.ReplaceAllString(remaining, " ")

	for _, m := range reQualified.FindAllStringSubmatch(remaining, -1) {
		add(m[1])
	}
	remaining = reQualified.ReplaceAllString(remaining, " ")

	remaining = reBareCall.ReplaceAllString(remaining, " ")

	for _, m := range reBare.FindAllString(remaining, -1) {
		add(m)
	}
	return out
}

// Item is one pending alias definition: a name plus the expression it
// resolves to.
type Item struct {
	Alias string
	Expr  string
}

// MaxPasses bounds the fixed-point iteration.
const MaxPasses = 5

// Resolve admits items from pending in dependency order: an item is
// admitted once every identifier ExtractReferences finds in its Expr is in
// available (base columns ∪ previously-admitted aliases ∪ joined columns).
// Up to MaxPasses are attempted; items still unresolved after that are
// dropped with a warning. available is mutated in place, gaining one entry
// per admitted item.
func Resolve(pending []Item, available map[string]bool) (admitted []Item, warnings []string) {
	remaining := append([]Item(nil), pending...)
	for pass := 0; pass < MaxPasses && len(remaining) > 0; pass++ {
		var next []Item
		progressed := false
		for _, it := range remaining {
			refs := ExtractReferences(it.Expr)
			ready := true
			for _, r := range refs {
				if !available[r] {
					ready = false
					break
				}
			}
			if ready {
				admitted = append(admitted, it)
				available[it.Alias] = true
				progressed = true
			} else {
				next = append(next, it)
			}
		}
		remaining = next
		if !progressed {
			break
		}
	}
	for _, it := range remaining {
		warnings = append(warnings, fmt.Sprintf("dropped %q after %d passes: unresolved reference", it.Alias, MaxPasses))
	}
	return admitted, warnings
}
