package engine

import (
	"context"
	"strings"

	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sync/typeinfer"
)

// destColumns returns the column names currently present on table in the
// embedded store, or nil if table does not exist.
func destColumns(ctx context.Context, dest router.Engine, table string) ([]string, error) {
	quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	rows, err := dest.QueryContext(ctx, "SELECT * FROM "+quoted+" WHERE 1=0", nil)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()
	return rows.Columns()
}

// createDestTable builds table from the sampled column types.
func createDestTable(ctx context.Context, dest router.Engine, table string, cols []string, types map[string]typeinfer.Type) error {
	quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = ident.QuoteIdent(dialect.EmbeddedColumnar, c) + " " + typeinfer.SQLiteType(types[c])
	}
	return dest.ExecContext(ctx, "CREATE TABLE "+quoted+" ("+strings.Join(defs, ", ")+")", nil)
}

// reconcileColumns adds any columns present in cols but absent from the
// destination table, inferring each from types. Missing columns are
// added via ALTER TABLE; existing columns are left untouched.
func reconcileColumns(ctx context.Context, dest router.Engine, table string, cols []string, types map[string]typeinfer.Type) error {
	existing, err := destColumns(ctx, dest, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[strings.ToLower(c)] = true
	}
	quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	for _, c := range cols {
		if have[strings.ToLower(c)] {
			continue
		}
		stmt := "ALTER TABLE " + quoted + " ADD COLUMN " +
			ident.QuoteIdent(dialect.EmbeddedColumnar, c) + " " + typeinfer.SQLiteType(types[c])
		if err := dest.ExecContext(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// sampleTypes classifies each column in cols from up to 64 rows of sample
// data, where sample[i][j] is column j of sample row i.
func sampleTypes(cols []string, sample [][]any) map[string]typeinfer.Type {
	types := make(map[string]typeinfer.Type, len(cols))
	for j, c := range cols {
		values := make([]any, 0, len(sample))
		for _, row := range sample {
			if j < len(row) {
				values = append(values, row[j])
			}
		}
		types[c] = typeinfer.Column(values)
	}
	return types
}

func tableExists(ctx context.Context, dest router.Engine, table string) bool {
	cols, _ := destColumns(ctx, dest, table)
	return cols != nil
}
