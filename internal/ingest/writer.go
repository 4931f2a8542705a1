package ingest

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
)

// sortedColumns returns the union of every record's sanitized keys,
// sorted, so a record missing a trailing column still binds correctly.
func sortedColumns(records []map[string]any) []string {
	set := make(map[string]bool)
	for _, r := range records {
		for k := range r {
			set[k] = true
		}
	}
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// insertRecords inserts records into table using the given column order,
// within a single transaction against the embedded store's shared
// connection.
func insertRecords(ctx context.Context, db *sql.DB, table string, cols []string, records []map[string]any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "ingest: begin insert transaction")
	}
	defer func() { _ = tx.Rollback() }()

	quotedTable := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	quotedCols := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = ident.QuoteIdent(dialect.EmbeddedColumnar, c)
		placeholders[i] = "?"
	}
	stmt := "INSERT INTO " + quotedTable + " (" + strings.Join(quotedCols, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ")"
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, errors.Wrap(err, "ingest: prepare insert")
	}
	defer prepared.Close()

	for _, rec := range records {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = rec[c]
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return 0, errors.Wrap(err, "ingest: insert row")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "ingest: commit insert transaction")
	}
	return int64(len(records)), nil
}

// deleteWindow deletes rows in [start, end] inclusive on dateField,
// deleting the window before inserting so runs are idempotent.
func deleteWindow(ctx context.Context, db *sql.DB, table, dateField, start, end string) error {
	quotedTable := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	quotedField := ident.QuoteIdent(dialect.EmbeddedColumnar, dateField)
	stmt := "DELETE FROM " + quotedTable + " WHERE " + quotedField + " >= ? AND " + quotedField + " <= ?"
	_, err := db.ExecContext(ctx, stmt, start, end)
	if err != nil {
		return errors.Wrap(err, "ingest: delete sequence window")
	}
	return nil
}

// truncateTable deletes every row in table; used for writeMode=replace on
// a non-sequenced task. A missing table is not an error.
func truncateTable(ctx context.Context, db *sql.DB, table string) error {
	quotedTable := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	_, err := db.ExecContext(ctx, "DELETE FROM "+quotedTable)
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return nil
	}
	return err
}
