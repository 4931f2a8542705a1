package ingest

import (
	"context"
	"database/sql"
	"strings"

	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sync/typeinfer"
)

// ensureTableSchema creates table if it doesn't exist (typed from sample),
// or adds any columns present in sample but absent from table: infer
// types from a non-empty sample, create the destination if absent, add
// missing columns via ALTER. Column order follows cols (Run passes them
// sorted) so repeated calls with the same shape don't reorder an existing
// table.
func ensureTableSchema(ctx context.Context, dest router.Engine, table string, cols []string, sample []map[string]any) error {
	colTypes := make(map[string]typeinfer.Type, len(cols))
	for _, c := range cols {
		values := make([]any, 0, len(sample))
		for _, row := range sample {
			values = append(values, row[c])
		}
		colTypes[c] = typeinfer.Column(values)
	}

	existing, err := destColumnsIngest(ctx, dest, table)
	if err != nil {
		return err
	}
	if existing == nil {
		defs := make([]string, len(cols))
		for i, c := range cols {
			defs[i] = ident.QuoteIdent(dialect.EmbeddedColumnar, c) + " " + typeinfer.SQLiteType(colTypes[c])
		}
		quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
		return dest.ExecContext(ctx, "CREATE TABLE "+quoted+" ("+strings.Join(defs, ", ")+")", nil)
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
			ident.QuoteIdent(dialect.EmbeddedColumnar, c) + " " + typeinfer.SQLiteType(colTypes[c])
		if err := dest.ExecContext(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// destColumnsIngest mirrors sync/engine's unexported destColumns helper;
// duplicated rather than exported across packages since the zero-row
// probe it performs is a one-liner and the two packages have otherwise
// independent lifecycles.
func destColumnsIngest(ctx context.Context, dest router.Engine, table string) ([]string, error) {
	quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	rows, err := dest.QueryContext(ctx, "SELECT * FROM "+quoted+" WHERE 1=0", nil)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()
	return rows.Columns()
}

// maxDateIngest reads MAX(dateField) from table as a string, or "" if the
// table doesn't exist or is empty, used to resume the sequencing window.
func maxDateIngest(ctx context.Context, db *sql.DB, table, dateField string) string {
	quotedTable := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	quotedField := ident.QuoteIdent(dialect.EmbeddedColumnar, dateField)
	var v sql.NullString
	row := db.QueryRowContext(ctx, "SELECT MAX("+quotedField+") FROM "+quotedTable)
	if err := row.Scan(&v); err != nil {
		return ""
	}
	if !v.Valid {
		return ""
	}
	return v.String
}
