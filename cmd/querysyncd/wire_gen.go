// Code generated by hand in the style Wire would produce. DO NOT EDIT.

//go:build !wireinject
// +build !wireinject

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/querysync/core/internal/cache"
	"github.com/querysync/core/internal/config"
	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/exec/enginepool"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/httpapi"
	"github.com/querysync/core/internal/ingest"
	"github.com/querysync/core/internal/metastore/postgres"
	"github.com/querysync/core/internal/sync/coordinator"
	"github.com/querysync/core/internal/sync/engine"
	"github.com/querysync/core/internal/testutil/memstore"
	"github.com/querysync/core/internal/throttle"
	"github.com/querysync/core/internal/types"
)

// App bundles the wired metadata store, engine pool, router, and sync
// coordinator behind the httpapi.Server the admin/ops binary serves.
type App struct {
	Server *httpapi.Server
	Store  *embedded.Store
	Pool   *enginepool.Pool
}

// Start wires the application graph from config, mirroring
// internal/source/mylogical's chained-cleanup injector shape: each
// constructor's cleanup is accumulated and, on any later failure, unwound
// in reverse order before returning the error.
func Start(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	meta, cleanupMeta, err := provideMetadataStore(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, cleanupMeta)

	store, err := provideEmbeddedStore(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "opening embedded store")
	}
	cleanups = append(cleanups, func() { store.Close() })

	pool := enginepool.New()
	cleanups = append(cleanups, pool.DisposeAll)

	r := router.New(pool, store, cfg.QueryMaxLimit)
	eng := engine.New(r, store)
	ing := ingest.New(store)
	coord := coordinator.New(meta, eng, ing, store)

	sharedCache, err := provideSharedCache(cfg)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "configuring shared cache backend")
	}
	resultCache := cache.New(cfg.ResultCacheTTL, sharedCache)

	sharedLimiter, err := provideSharedLimiter(cfg)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "configuring shared rate-limit backend")
	}
	gate := throttle.NewGate(throttle.Limits{
		RatePerSec:            cfg.QueryRatePerSec,
		Burst:                 cfg.QueryBurst,
		HeavyQueryConcurrency: cfg.HeavyQueryConcurrency,
		UserQueryConcurrency:  cfg.UserQueryConcurrency,
	}, sharedLimiter)

	server := &httpapi.Server{
		Meta:     meta,
		Router:   r,
		Pool:     pool,
		Cache:    resultCache,
		Gate:     gate,
		Coord:    coord,
		Resolver: httpapi.PassthroughResolver{},
		Auth:     httpapi.TrustAll{},
	}

	return &App{Server: server, Store: store, Pool: pool}, cleanup, nil
}

// provideMetadataStore opens a postgres-backed types.MetadataStore when
// cfg.MetadataDSN is set, else falls back to the in-memory stub so the
// binary links and runs with no external collaborator configured.
func provideMetadataStore(ctx context.Context, cfg *config.Config) (types.MetadataStore, func(), error) {
	if cfg.MetadataDSN == "" {
		return memstore.New(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.MetadataDSN)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connecting to metadata store")
	}
	return postgres.New(pool), pool.Close, nil
}

func provideEmbeddedStore(ctx context.Context, cfg *config.Config) (*embedded.Store, error) {
	path := cfg.EmbeddedStorePath
	dir := filepath.Dir(path)
	if path == "" {
		tmp, err := os.MkdirTemp("", "querysyncd-embedded-*")
		if err != nil {
			return nil, err
		}
		dir = tmp
		path = filepath.Join(tmp, "default.db")
	}
	return embedded.Open(ctx, embedded.Config{
		DefaultPath:   path,
		MarkerPath:    filepath.Join(dir, "active.marker"),
		Threads:       cfg.SQLiteThreads,
		MemoryLimitMB: cfg.SQLiteMemoryLimitMB,
		TempDir:       cfg.SQLiteTempDir,
	})
}

// provideSharedCache and provideSharedLimiter are the seams a deployment
// wires a real shared backend (Redis, etc.) into; cfg.SharedCacheURL is
// parsed here rather than in internal/config so that backend choice stays
// an adapter-layer concern. No shared backend ships with this module, so
// a configured URL with no matching backend available is a startup error
// rather than a silent process-local downgrade.
func provideSharedCache(cfg *config.Config) (cache.Backend, error) {
	if cfg.SharedCacheURL == "" {
		return nil, nil
	}
	return nil, errors.Errorf("no shared cache backend is wired in this build for %q", cfg.SharedCacheURL)
}

func provideSharedLimiter(cfg *config.Config) (throttle.Backend, error) {
	if cfg.SharedCacheURL == "" {
		return nil, nil
	}
	return nil, errors.Errorf("no shared rate-limit backend is wired in this build for %q", cfg.SharedCacheURL)
}
