package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
)

// applyGapFill builds "<table>_filled", filling either every non-key
// column or, when columns is non-empty, only that subset, across a
// generated daily calendar spanning table's date range.
//
// A DuckDB-shaped embedded engine could express the ffill case directly
// with generate_series and last_value(...) IGNORE NULLS OVER(...); the
// embedded store here is sqlite, which has neither, so the same result is
// built from a recursive CTE calendar and a per-column correlated
// subquery picking the most recent non-null value at or before each day.
// method "zero" fills with COALESCE(col, 0) instead, for counter-style
// metrics where an absent day means zero rather than "carry the last
// value."
func applyGapFill(ctx context.Context, db *sql.DB, table, dateField, keyFieldsCSV string, columns []string, method string) error {
	keyFields := splitNonEmpty(keyFieldsCSV, ",")
	if len(keyFields) == 0 {
		return nil
	}
	filled := table + "_filled"

	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+ident.QuoteIdent(dialect.EmbeddedColumnar, table)+")")
	if err != nil {
		return errors.Wrap(err, "ingest: read table_info for gap fill")
	}
	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return errors.Wrap(err, "ingest: scan table_info row")
		}
		cols = append(cols, name)
	}
	rows.Close()

	exclude := make(map[string]bool, len(keyFields)+1)
	for _, k := range keyFields {
		exclude[strings.ToLower(k)] = true
	}
	exclude[strings.ToLower(dateField)] = true

	var want map[string]bool
	if len(columns) > 0 {
		want = make(map[string]bool, len(columns))
		for _, c := range columns {
			want[strings.ToLower(c)] = true
		}
	}

	var nonKeys []string
	for _, c := range cols {
		if exclude[strings.ToLower(c)] {
			continue
		}
		if want != nil && !want[strings.ToLower(c)] {
			continue
		}
		nonKeys = append(nonKeys, c)
	}

	quotedTable := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	quotedFilled := ident.QuoteIdent(dialect.EmbeddedColumnar, filled)
	quotedDate := ident.QuoteIdent(dialect.EmbeddedColumnar, dateField)
	quotedKeys := quoteIdentList(keyFields)
	keysCSV := strings.Join(quotedKeys, ", ")

	keyJoin := make([]string, len(keyFields))
	for i, qk := range quotedKeys {
		keyJoin[i] = "ad." + qk + " = src." + qk
	}
	keyJoinCond := strings.Join(keyJoin, " AND ")

	selectCols := []string{"ad." + strings.Join(quotedKeys, ", ad."), "ad." + quotedDate}
	for _, c := range nonKeys {
		qc := ident.QuoteIdent(dialect.EmbeddedColumnar, c)
		if strings.EqualFold(method, "zero") {
			selectCols = append(selectCols, "COALESCE(src."+qc+", 0) AS "+qc)
			continue
		}
		fillCond := make([]string, len(keyFields))
		for i, qk := range quotedKeys {
			fillCond[i] = "t2." + qk + " = ad." + qk
		}
		subquery := fmt.Sprintf(
			"(SELECT t2.%s FROM %s t2 WHERE %s AND t2.%s <= ad.%s AND t2.%s IS NOT NULL ORDER BY t2.%s DESC LIMIT 1)",
			qc, quotedTable, strings.Join(fillCond, " AND "), quotedDate, quotedDate, qc, quotedDate,
		)
		selectCols = append(selectCols, "COALESCE(src."+qc+", "+subquery+") AS "+qc)
	}

	sqlText := "DROP TABLE IF EXISTS " + quotedFilled + ";\n" +
		"CREATE TABLE " + quotedFilled + " AS\n" +
		"WITH RECURSIVE calendar(d) AS (\n" +
		"  SELECT (SELECT MIN(" + quotedDate + ") FROM " + quotedTable + ")\n" +
		"  UNION ALL\n" +
		"  SELECT date(d, '+1 day') FROM calendar WHERE d < (SELECT MAX(" + quotedDate + ") FROM " + quotedTable + ")\n" +
		"),\n" +
		"distinct_keys AS (SELECT DISTINCT " + keysCSV + " FROM " + quotedTable + "),\n" +
		"all_days AS (SELECT distinct_keys.*, calendar.d AS " + quotedDate + " FROM distinct_keys CROSS JOIN calendar)\n" +
		"SELECT " + strings.Join(selectCols, ", ") + "\n" +
		"FROM all_days ad LEFT JOIN " + quotedTable + " src ON " + keyJoinCond + " AND ad." + quotedDate + " = src." + quotedDate

	for _, stmt := range strings.Split(sqlText, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "ingest: apply gap fill")
		}
	}
	return nil
}

func quoteIdentList(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident.QuoteIdent(dialect.EmbeddedColumnar, n)
	}
	return out
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
