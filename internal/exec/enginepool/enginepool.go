// Package enginepool maintains a DSN-keyed cache of live database
// connections shared across requests, generalizing a single staging
// pool / single target pool split into "N pools keyed by normalized DSN."
package enginepool

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // registers the "sqlserver" driver
	_ "github.com/go-sql-driver/mysql"   // registers the "mysql" driver
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/types"
)

// Tuning is the set of custom pool-tuning query params a caller may
// smuggle into a DSN's query string, plus the dialect defaults applied
// when absent.
type Tuning struct {
	PoolSize    int
	MaxOverflow int
	PoolTimeout time.Duration
	PoolRecycle time.Duration
	PrePing     bool
}

// networkDefaults is the default tuning for networked (non-embedded)
// dialects.
func networkDefaults() Tuning {
	return Tuning{PoolSize: 5, MaxOverflow: 20, PoolRecycle: 1800 * time.Second, PrePing: true}
}

// tuningKeys are the custom query params stripped from a DSN before it's
// handed to a driver; they are never valid driver options themselves.
var tuningKeys = map[string]bool{
	"poolSize":    true,
	"maxOverflow": true,
	"poolTimeout": true,
	"poolClamp":   true,
}

// stripTuningParams removes the custom pool-tuning keys from dsn's query
// string, returning the cleaned DSN and the tuning overrides found.
// Operating on the substring after the last "?" works uniformly whether
// dsn is a well-formed URL (postgres, mssql, sqlite) or a mysql-style DSN
// that is not itself a URL but still ends in a "?key=val&..." query.
func stripTuningParams(dsn string, base Tuning) (string, Tuning) {
	idx := strings.LastIndex(dsn, "?")
	if idx < 0 {
		return dsn, base
	}
	prefix, rawQuery := dsn[:idx], dsn[idx+1:]
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return dsn, base
	}

	tuning := base
	clamp := false
	explicit := false
	if v := values.Get("poolClamp"); v != "" {
		clamp = v == "1" || strings.EqualFold(v, "true")
		values.Del("poolClamp")
	}
	if v := values.Get("poolSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tuning.PoolSize = n
			explicit = true
		}
		values.Del("poolSize")
	}
	if v := values.Get("maxOverflow"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tuning.MaxOverflow = n
			explicit = true
		}
		values.Del("maxOverflow")
	}
	if v := values.Get("poolTimeout"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tuning.PoolTimeout = time.Duration(n) * time.Second
		}
		values.Del("poolTimeout")
	}
	if clamp && !explicit {
		// poolClamp with no explicit size names the conservative single-
		// connection shape a constrained deployment falls back to.
		tuning.PoolSize, tuning.MaxOverflow, tuning.PoolTimeout = 1, 0, 5*time.Second
	}

	cleaned := prefix
	if remaining := values.Encode(); remaining != "" {
		cleaned += "?" + remaining
	}
	return cleaned, tuning
}

type pooledEngine struct {
	engine   router.Engine
	kind     types.DatasourceKind
	lastUsed time.Time
	close    func() error
}

// IdleHealthCheckThreshold is how long an engine may sit unused before a
// checkout cheaply re-validates it.
const IdleHealthCheckThreshold = 60 * time.Second

// Pool caches engines by normalized DSN and satisfies router.Pool.
type Pool struct {
	mu      sync.Mutex
	engines map[string]*pooledEngine
	byRef   map[router.Engine]string
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{engines: make(map[string]*pooledEngine), byRef: make(map[router.Engine]string)}
}

// Checkout returns the cached engine for dsn, opening and caching a new one
// if absent, and disposing+reopening it if a pre-ping health check fails
// after it has sat idle past IdleHealthCheckThreshold.
func (p *Pool) Checkout(ctx context.Context, dsn string, kind types.DatasourceKind) (router.Engine, error) {
	clean, tuning := normalizedDSN(dsn, kind)

	p.mu.Lock()
	existing, ok := p.engines[clean]
	p.mu.Unlock()

	if ok {
		if time.Since(existing.lastUsed) > IdleHealthCheckThreshold {
			if err := ping(ctx, existing.engine); err != nil {
				log.WithError(err).WithField("dsn", redactDSN(clean)).Info("pooled engine failed health check, reopening")
				p.Dispose(dsn)
				ok = false
			}
		}
	}
	if ok {
		p.mu.Lock()
		existing.lastUsed = time.Now()
		p.mu.Unlock()
		return existing.engine, nil
	}

	opened, closeFn, err := open(ctx, clean, kind, tuning)
	if err != nil {
		return nil, errors.Wrap(err, "enginepool: open")
	}

	p.mu.Lock()
	p.engines[clean] = &pooledEngine{engine: opened, kind: kind, lastUsed: time.Now(), close: closeFn}
	p.byRef[opened] = clean
	p.mu.Unlock()
	return opened, nil
}

// Dispose closes and evicts the cached engine for dsn, if present. It
// satisfies router.Pool.
func (p *Pool) Dispose(dsn string) {
	clean, _ := splitDSNForDispose(dsn)
	p.mu.Lock()
	pe, ok := p.engines[clean]
	if ok {
		delete(p.engines, clean)
		delete(p.byRef, pe.engine)
	}
	p.mu.Unlock()
	if ok {
		if err := pe.close(); err != nil {
			log.WithError(err).Warn("enginepool: error closing disposed engine")
		}
	}
}

// DisposeByDsn is the DSN-keyed alias for Dispose.
func (p *Pool) DisposeByDsn(dsn string) { p.Dispose(dsn) }

// DisposeEngine closes and evicts a specific Engine instance by reverse
// DSN lookup.
func (p *Pool) DisposeEngine(e router.Engine) {
	p.mu.Lock()
	dsn, ok := p.byRef[e]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.Dispose(dsn)
}

// DisposeAll closes and evicts every cached engine.
func (p *Pool) DisposeAll() {
	p.mu.Lock()
	all := p.engines
	p.engines = make(map[string]*pooledEngine)
	p.byRef = make(map[router.Engine]string)
	p.mu.Unlock()
	for dsn, pe := range all {
		if err := pe.close(); err != nil {
			log.WithError(err).WithField("dsn", redactDSN(dsn)).Warn("enginepool: error closing engine during disposeAll")
		}
	}
}

func splitDSNForDispose(dsn string) (string, Tuning) {
	return stripTuningParams(dsn, networkDefaults())
}

func normalizedDSN(dsn string, kind types.DatasourceKind) (string, Tuning) {
	base := networkDefaults()
	if kind == types.KindSQLite {
		base = Tuning{PoolSize: 5, MaxOverflow: 10, PrePing: true}
	}
	return stripTuningParams(dsn, base)
}

func ping(ctx context.Context, e router.Engine) error {
	return e.ExecContext(ctx, "SELECT 1", nil)
}

// redactDSN strips credentials before a DSN reaches a log line.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		u.User = url.UserPassword("redacted", "redacted")
		return u.String()
	}
	return dsn
}

func open(ctx context.Context, dsn string, kind types.DatasourceKind, tuning Tuning) (router.Engine, func() error, error) {
	switch kind {
	case types.KindPostgresFamily:
		return openPgx(ctx, dsn, tuning)
	case types.KindMySQLFamily:
		return openDatabaseSQL(ctx, "mysql", dsn, dialect.MySQL, tuning)
	case types.KindMSSQLFamily:
		return openDatabaseSQL(ctx, "sqlserver", dsn, dialect.MSSQL, tuning)
	case types.KindSQLite:
		return openDatabaseSQL(ctx, "sqlite", dsn, dialect.SQLite, tuning)
	default:
		return nil, nil, errors.Errorf("enginepool: unsupported datasource kind %q", kind)
	}
}

func openPgx(ctx context.Context, dsn string, tuning Tuning) (router.Engine, func() error, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse postgres dsn")
	}
	cfg.MaxConns = int32(tuning.PoolSize + tuning.MaxOverflow)
	if tuning.PoolRecycle > 0 {
		cfg.MaxConnLifetime = tuning.PoolRecycle
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open postgres pool")
	}
	if tuning.PrePing {
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "ping postgres pool")
		}
	}
	return &pgxEngine{pool: pool}, func() error { pool.Close(); return nil }, nil
}

func openDatabaseSQL(ctx context.Context, driverName, dsn string, d dialect.Kind, tuning Tuning) (router.Engine, func() error, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s dsn", driverName)
	}
	db.SetMaxOpenConns(tuning.PoolSize + tuning.MaxOverflow)
	if tuning.PoolSize > 0 {
		db.SetMaxIdleConns(tuning.PoolSize)
	}
	if tuning.PoolRecycle > 0 {
		db.SetConnMaxLifetime(tuning.PoolRecycle)
	}
	if tuning.PrePing {
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, errors.Wrapf(err, "ping %s dsn", driverName)
		}
	}
	return &sqlEngine{db: db, dialect: d}, db.Close, nil
}
