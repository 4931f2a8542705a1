// Package config aggregates this service's environment knobs into a
// single pflag-bound struct with a Bind/Preflight split: Bind registers
// flags with defaults, Preflight validates cross-field invariants once
// flags are parsed.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the top-level process configuration for cmd/querysyncd.
type Config struct {
	BindAddr string

	// MetadataDSN is the postgres connection string for the metadata
	// store (Datasource/SyncTask/SyncState/SyncRun/SyncLock). Empty
	// selects the in-memory stub metadata store, which only exists so
	// the binary links and its smoke tests run without a real database
	// configured.
	MetadataDSN string

	// EmbeddedStorePath is the active-path default for the embedded
	// columnar store; empty selects a temp-dir default.
	EmbeddedStorePath string

	// ResultCacheTTL is the result cache's entry lifetime.
	ResultCacheTTL time.Duration
	// SharedCacheURL and SharedCachePrefix configure the result cache's
	// optional shared backend; empty URL means process-local-only caching.
	SharedCacheURL    string
	SharedCachePrefix string

	// QueryRatePerSec and QueryBurst are the throttle gate's per-actor
	// token-bucket parameters.
	QueryRatePerSec float64
	QueryBurst      float64
	// HeavyQueryConcurrency and UserQueryConcurrency are the throttle
	// gate's semaphore sizes.
	HeavyQueryConcurrency int
	UserQueryConcurrency  int

	// QueryMaxLimit is the global row-count clamp applied to paginated
	// requests.
	QueryMaxLimit int

	// UserScopedTables is bound to a flag but not read: the embedded store
	// does not produce per-owner table-name variants.
	UserScopedTables bool

	// SQLiteMemoryLimitMB, SQLiteThreads and SQLiteTempDir are the
	// memory/thread/temp-dir pragmas for the embedded store.
	SQLiteMemoryLimitMB int
	SQLiteThreads       int
	SQLiteTempDir       string
}

// Bind registers every knob above on flags, one StringVar/BoolVar/...
// call per field.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.BindAddr, "bindAddr", ":8080",
		"the network address the admin/ops HTTP adapter binds to")
	flags.StringVar(&c.MetadataDSN, "metadataDSN", "",
		"postgres DSN for the metadata store; empty uses an in-memory stub")
	flags.StringVar(&c.EmbeddedStorePath, "embeddedStorePath", "",
		"path to the embedded columnar store file; empty uses a temp-dir default")

	flags.DurationVar(&c.ResultCacheTTL, "resultCacheTTL", 5*time.Second,
		"result cache entry lifetime (RESULT_CACHE_TTL)")
	flags.StringVar(&c.SharedCacheURL, "sharedCacheURL", "",
		"optional shared cache backend URL; empty means process-local only")
	flags.StringVar(&c.SharedCachePrefix, "sharedCachePrefix", "querysync",
		"key prefix applied to shared cache entries")

	flags.Float64Var(&c.QueryRatePerSec, "queryRatePerSec", 5.0,
		"per-actor token bucket refill rate (QUERY_RATE_PER_SEC)")
	flags.Float64Var(&c.QueryBurst, "queryBurst", 10.0,
		"per-actor token bucket burst size (QUERY_BURST)")
	flags.IntVar(&c.HeavyQueryConcurrency, "heavyQueryConcurrency", 8,
		"global semaphore size for heavy queries (HEAVY_QUERY_CONCURRENCY)")
	flags.IntVar(&c.UserQueryConcurrency, "userQueryConcurrency", 2,
		"per-actor semaphore size (USER_QUERY_CONCURRENCY)")

	flags.IntVar(&c.QueryMaxLimit, "queryMaxLimit", 10000,
		"global row-count clamp applied to paginated requests (QUERY_MAX_LIMIT)")
	flags.BoolVar(&c.UserScopedTables, "userScopedTables", false,
		"accepted but not read; no per-owner table name variants are produced")

	flags.IntVar(&c.SQLiteMemoryLimitMB, "sqliteMemoryLimitMB", 0,
		"embedded store memory pragma override; 0 leaves the driver default")
	flags.IntVar(&c.SQLiteThreads, "sqliteThreads", 0,
		"embedded store thread pragma override; 0 leaves the driver default")
	flags.StringVar(&c.SQLiteTempDir, "sqliteTempDir", "",
		"embedded store temp-dir pragma override; empty leaves the driver default")
}

// Preflight validates the bound configuration, one guard per cross-field
// invariant.
func (c *Config) Preflight() error {
	if c.BindAddr == "" {
		return errors.New("bindAddr unset")
	}
	if c.ResultCacheTTL <= 0 {
		return errors.New("resultCacheTTL must be positive")
	}
	if c.QueryRatePerSec <= 0 {
		return errors.New("queryRatePerSec must be positive")
	}
	if c.QueryBurst <= 0 {
		return errors.New("queryBurst must be positive")
	}
	if c.HeavyQueryConcurrency <= 0 || c.UserQueryConcurrency <= 0 {
		return errors.New("heavyQueryConcurrency and userQueryConcurrency must be positive")
	}
	if c.QueryMaxLimit <= 0 {
		return errors.New("queryMaxLimit must be positive")
	}
	return nil
}
