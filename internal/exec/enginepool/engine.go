package enginepool

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
)

// sqlEngine adapts a *database/sql.DB (mysql, mssql, sqlite drivers) to
// router.Engine; *sql.Rows already satisfies router.Rows without
// adaptation.
type sqlEngine struct {
	db      *sql.DB
	dialect dialect.Kind
}

func (e *sqlEngine) Dialect() dialect.Kind { return e.dialect }

func (e *sqlEngine) QueryContext(ctx context.Context, statement string, args []any) (router.Rows, error) {
	return e.db.QueryContext(ctx, statement, args...)
}

func (e *sqlEngine) ExecContext(ctx context.Context, statement string, args []any) error {
	_, err := e.db.ExecContext(ctx, statement, args...)
	return err
}

// WrapSQLDB exposes an already-open *database/sql.DB as a router.Engine,
// shared with the embedded store handle so it doesn't need to duplicate
// this adapter for its own sqlite connections.
func WrapSQLDB(db *sql.DB, d dialect.Kind) router.Engine {
	return &sqlEngine{db: db, dialect: d}
}

// pgxEngine adapts a *pgxpool.Pool (postgres-family) to router.Engine as
// a routable Engine rather than a build-time-injected singleton.
type pgxEngine struct {
	pool *pgxpool.Pool
}

func (e *pgxEngine) Dialect() dialect.Kind { return dialect.Postgres }

func (e *pgxEngine) QueryContext(ctx context.Context, statement string, args []any) (router.Rows, error) {
	rows, err := e.pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRowsAdapter{rows: rows}, nil
}

func (e *pgxEngine) ExecContext(ctx context.Context, statement string, args []any) error {
	_, err := e.pool.Exec(ctx, statement, args...)
	return err
}

// pgxRowsAdapter narrows pgx.Rows to router.Rows's database/sql-shaped
// interface, since pgx.Rows exposes field metadata and Close differently.
type pgxRowsAdapter struct {
	rows pgx.Rows
}

func (a *pgxRowsAdapter) Columns() ([]string, error) {
	fields := a.rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names, nil
}

func (a *pgxRowsAdapter) Next() bool             { return a.rows.Next() }
func (a *pgxRowsAdapter) Scan(dest ...any) error { return a.rows.Scan(dest...) }
func (a *pgxRowsAdapter) Err() error             { return a.rows.Err() }
func (a *pgxRowsAdapter) Close() error           { a.rows.Close(); return nil }
