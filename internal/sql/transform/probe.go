package transform

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
)

// Prober returns the live column names of source, or an error if the probe
// cannot run. A nil Prober, or a Prober that errors, means column
// availability cannot be determined; the composer then degrades gracefully
// by skipping custom-column and transform validation rather than failing
// the request.
type Prober func(ctx context.Context, source string) ([]string, error)

// DBProber builds a Prober backed by a live connection, issuing a
// dialect-appropriate zero-row probe query.
func DBProber(db *sql.DB, d dialect.Kind) Prober {
	return func(ctx context.Context, source string) ([]string, error) {
		quoted := ident.QuoteSource(d, source)
		rows, err := db.QueryContext(ctx, probeQuery(d, quoted))
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return rows.Columns()
	}
}

func probeQuery(d dialect.Kind, quotedSource string) string {
	if d == dialect.MSSQL {
		return fmt.Sprintf("SELECT TOP 0 * FROM %s", quotedSource)
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE 1=0", quotedSource)
}
