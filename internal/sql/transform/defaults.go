package transform

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/types"
)

// applyDefaults emits the composer's sort/limit step. When multiple
// Defaults items survived scope filtering, the last one in sequence order
// wins, matching
// the ordered-transform-sequence convention the rest of the DSL follows.
// A LimitTopN default's own ordinal ordering takes precedence over a plain
// Sort default, since it defines the ranking the TopN limit is applied to.
func applyDefaults(d dialect.Kind, defaults []types.Defaults, resolvedColumns []string) (orderClause string, limitN int) {
	if len(defaults) == 0 {
		return "", 0
	}
	def := defaults[len(defaults)-1]

	if def.LimitTopN != nil {
		ordinal := def.LimitTopN.By
		if ordinal < 1 {
			ordinal = 1
		}
		if max := len(resolvedColumns); max > 0 && ordinal > max {
			ordinal = max
		}
		dir := strings.ToUpper(def.LimitTopN.Direction)
		if dir != "ASC" {
			dir = "DESC"
		}
		return fmt.Sprintf("%d %s", ordinal, dir), def.LimitTopN.N
	}

	if def.Sort != nil {
		dir := strings.ToUpper(def.Sort.Direction)
		if dir != "DESC" {
			dir = "ASC"
		}
		return fmt.Sprintf("%s %s", ident.QuoteIdent(d, def.Sort.By), dir), 0
	}

	return "", 0
}
