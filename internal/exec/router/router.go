// Package router decides between the embedded columnar store and a pooled
// remote engine, rewraps pagination, and retries once on a transient
// connection error.
package router

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/apperror"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/types"
)

// Rows is the subset of *sql.Rows the router and its callers need; a plain
// *database/sql.Rows satisfies it without adaptation.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Engine is a live connection capable of running a query, whether it is
// backed by the embedded store or a pooled remote connection.
type Engine interface {
	Dialect() dialect.Kind
	QueryContext(ctx context.Context, statement string, args []any) (Rows, error)
	ExecContext(ctx context.Context, statement string, args []any) error
}

// Pool checks out a cached or newly-opened Engine for a datasource's DSN
// and can dispose of a broken one, implemented by the engine pool.
type Pool interface {
	Checkout(ctx context.Context, dsn string, kind types.DatasourceKind) (Engine, error)
	Dispose(dsn string)
}

// EmbeddedStore answers whether a table lives in the embedded columnar file
// and hands back its Engine.
type EmbeddedStore interface {
	HasTable(ctx context.Context, table string) bool
	Engine() Engine
}

// Router sequences the engine routing decision, pagination, statement
// timeouts, and transient-error retry.
type Router struct {
	pool     Pool
	embedded EmbeddedStore
	maxLimit int
}

// New constructs a Router. maxLimit is the global QUERY_MAX_LIMIT; zero or
// negative selects types.QueryMaxLimitDefault.
func New(pool Pool, embedded EmbeddedStore, maxLimit int) *Router {
	if maxLimit <= 0 {
		maxLimit = types.QueryMaxLimitDefault
	}
	return &Router{pool: pool, embedded: embedded, maxLimit: maxLimit}
}

// Plan is the resolved statement a caller actually executes: the dialect
// chosen, the final paginated SQL, and its positional arguments.
type Plan struct {
	Dialect dialect.Kind
	SQL     string
	Args    []any
}

// Route picks an Engine for ds: the embedded store when ds is itself
// embedded-columnar, or when embeddedAllowed is true and the referenced
// table already exists there; otherwise the DSN-pooled remote engine.
func (r *Router) Route(ctx context.Context, ds types.Datasource, table, dsn string, embeddedAllowed bool) (Engine, error) {
	if ds.Kind == types.KindEmbeddedColumnar {
		return r.embedded.Engine(), nil
	}
	if embeddedAllowed && r.embedded != nil && r.embedded.HasTable(ctx, table) {
		return r.embedded.Engine(), nil
	}
	return r.pool.Checkout(ctx, dsn, ds.Kind)
}

// MaxRowLimit applies the clamp chain: the smaller of the caller's
// request, the global QUERY_MAX_LIMIT, and a datasource-specific override
// when set.
func (r *Router) MaxRowLimit(requested int, override int) int {
	limit := r.maxLimit
	if override > 0 && override < limit {
		limit = override
	}
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// Paginate rewrites inner as a LIMIT/OFFSET (or mssql OFFSET/FETCH)
// wrapper, clamping limit to maxLimit and binding placeholders that
// continue numbering from paramCount (the number of positional arguments
// already present in inner's own parameter list).
func Paginate(d dialect.Kind, inner string, hasOrderBy bool, limit, offset, maxLimit, paramCount int) (string, []any) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	caps := dialect.CapabilitiesFor(d)

	if caps.SupportsOffsetFetch {
		return paginateMSSQL(caps, inner, hasOrderBy, limit, offset, paramCount)
	}

	limitPh := caps.Placeholder(paramCount + 1)
	offsetPh := caps.Placeholder(paramCount + 2)
	sql := "SELECT * FROM (" + inner + ") AS _q LIMIT " + limitPh + " OFFSET " + offsetPh
	return sql, []any{limit, offset}
}

func paginateMSSQL(caps dialect.Capabilities, inner string, hasOrderBy bool, limit, offset, paramCount int) (string, []any) {
	offsetPh := caps.Placeholder(paramCount + 1)
	limitPh := caps.Placeholder(paramCount + 2)

	if hasOrderBy {
		// inner already supplies the ORDER BY that OFFSET/FETCH requires;
		// append directly rather than wrapping, which would hide it from
		// the statement OFFSET/FETCH binds to.
		sql := inner + " OFFSET " + offsetPh + " ROWS FETCH NEXT " + limitPh + " ROWS ONLY"
		return sql, []any{offset, limit}
	}

	// No ordering to preserve: assign an arbitrary rank via ROW_NUMBER so
	// OFFSET/FETCH has something deterministic to paginate over.
	sql := "SELECT * FROM (SELECT _src.*, ROW_NUMBER() OVER (ORDER BY (SELECT 1)) AS _rn FROM (" +
		inner + ") AS _src) AS _q ORDER BY _rn OFFSET " + offsetPh + " ROWS FETCH NEXT " + limitPh + " ROWS ONLY"
	return sql, []any{offset, limit}
}

// StatementTimeout returns the per-dialect SQL to set a statement timeout
// before running a query, or "" when the dialect has no such session-level
// setting.
func StatementTimeout(d dialect.Kind, seconds int) string {
	ms := seconds * 1000
	switch d {
	case dialect.Postgres:
		return "SET statement_timeout = " + itoa(ms)
	case dialect.MySQL:
		return "SET SESSION MAX_EXECUTION_TIME = " + itoa(ms)
	case dialect.MSSQL:
		return "SET LOCK_TIMEOUT " + itoa(ms)
	default:
		return ""
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DataQueryTimeout and CountQueryTimeout are the default statement
// timeouts, in seconds.
const (
	DataQueryTimeout  = 120
	CountQueryTimeout = 30
)

// Execute runs statement against the Engine chosen for ds, retrying once
// on a classified transient error after disposing the cached engine.
func (r *Router) Execute(ctx context.Context, ds types.Datasource, table, dsn string, embeddedAllowed bool, statement string, args []any) (Rows, error) {
	engine, err := r.Route(ctx, ds, table, dsn, embeddedAllowed)
	if err != nil {
		return nil, err
	}

	rows, err := engine.QueryContext(ctx, statement, args)
	if err == nil {
		return rows, nil
	}

	class, ok := Classify(err)
	if !ok {
		return nil, errors.WithStack(err)
	}

	log.WithError(err).WithField("class", class.apperrorKind).Warn("transient error, disposing engine and retrying once")
	if ds.Kind != types.KindEmbeddedColumnar && dsn != "" {
		r.pool.Dispose(dsn)
	}

	engine, err = r.Route(ctx, ds, table, dsn, embeddedAllowed)
	if err != nil {
		return nil, err
	}
	rows, err = engine.QueryContext(ctx, statement, args)
	if err != nil {
		if class, ok := Classify(err); ok {
			return nil, apperror.Wrap(class.apperrorKind, err, class.message)
		}
		return nil, errors.WithStack(err)
	}
	return rows, nil
}
