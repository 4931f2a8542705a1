// Package embedded manages a single process-wide connection to the active
// embedded columnar file, an ephemeral-connection escape hatch for ad-hoc
// reads of other files, and a persisted "active path" marker that survives
// restarts.
package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/exec/enginepool"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/util/notify"
)

// Config carries the embedded store's connect-time pragmas plus the
// default and marker file paths. The target embedded engine is
// DuckDB-shaped (columnar, single analytical file); no DuckDB driver was
// available, so modernc.org/sqlite backs it instead, and these knobs map
// onto the nearest sqlite equivalent rather than a literal pragma name.
type Config struct {
	// DefaultPath is used when no marker file exists yet (first run).
	DefaultPath string
	// MarkerPath is the sidecar file recording the active embedded path.
	MarkerPath string
	// Threads maps to SetMaxOpenConns on ephemeral connections; sqlite
	// itself serializes per-connection, and the shared connection stays
	// capped at one open connection regardless of this value.
	Threads int
	// MemoryLimitMB maps to sqlite's page cache size (PRAGMA cache_size,
	// negative value = KB of cache).
	MemoryLimitMB int
	// ObjectCacheEnabled has no sqlite equivalent; recorded for parity
	// with the pragma list and surfaced in logs when disabled.
	ObjectCacheEnabled bool
	// TempDir maps to PRAGMA temp_store_directory.
	TempDir string
}

// Store is the process-wide handle to the active embedded file.
type Store struct {
	cfg Config

	mu         sync.Mutex
	shared     *sql.DB
	activePath *notify.Var[string]
}

// Open loads the persisted active-path marker (or cfg.DefaultPath on first
// run), opens the single shared connection, and applies pragmas.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	path := readMarker(cfg.MarkerPath)
	if path == "" {
		path = cfg.DefaultPath
	}

	db, err := openShared(ctx, path, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "embedded: open shared connection")
	}

	s := &Store{cfg: cfg, shared: db, activePath: &notify.Var[string]{}}
	s.activePath.Set(path)
	if err := writeMarker(cfg.MarkerPath, path); err != nil {
		log.WithError(err).Warn("embedded: could not persist active-path marker")
	}
	return s, nil
}

// openShared opens path as the single process-wide connection: one
// physical connection (MaxOpenConns=1) so every read and write is
// serialized through it, matching the single-writer convention the router
// expects of an embedded engine.
func openShared(ctx context.Context, path string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := applyPragmas(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, cfg Config) error {
	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"}
	if cfg.MemoryLimitMB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", cfg.MemoryLimitMB*1024))
	}
	if cfg.TempDir != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA temp_store_directory=%s", quoteSQLiteString(cfg.TempDir)))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return errors.Wrapf(err, "apply pragma %q", p)
		}
	}
	if !cfg.ObjectCacheEnabled {
		log.Debug("embedded: object cache has no sqlite equivalent, ignoring")
	}
	return nil
}

func quoteSQLiteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Engine returns the shared connection as a router.Engine.
func (s *Store) Engine() router.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return enginepool.WrapSQLDB(s.shared, dialect.EmbeddedColumnar)
}

// RawDB exposes the shared connection directly so the sync engine can
// wrap a batch's delete-then-insert upsert in a single transaction.
func (s *Store) RawDB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared
}

// ActivePath returns the currently active embedded file path.
func (s *Store) ActivePath() string {
	p, _ := s.activePath.Get()
	return p
}

// Watch returns the active path and a channel that closes the next time
// it changes, so the sync engine can detect the path change that triggers
// a watermark auto-reset.
func (s *Store) Watch() (string, <-chan struct{}) {
	return s.activePath.Get()
}

// HasTable reports whether table exists in the active embedded file.
func (s *Store) HasTable(ctx context.Context, table string) bool {
	s.mu.Lock()
	db := s.shared
	s.mu.Unlock()

	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type='table' AND tbl_name = ?`, table).Scan(&one)
	return err == nil
}

// SwitchActivePath disposes the current shared connection, opens a new one
// at newPath, and persists the marker so the new path survives a restart.
func (s *Store) SwitchActivePath(ctx context.Context, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newDB, err := openShared(ctx, newPath, s.cfg)
	if err != nil {
		return errors.Wrap(err, "embedded: open new active path")
	}

	old := s.shared
	s.shared = newDB
	if err := writeMarker(s.cfg.MarkerPath, newPath); err != nil {
		log.WithError(err).Warn("embedded: could not persist active-path marker")
	}
	s.activePath.Set(newPath)

	if err := old.Close(); err != nil {
		log.WithError(err).Warn("embedded: error closing previous shared connection")
	}
	return nil
}

// Ephemeral opens a secondary, independent connection to path for an
// ad-hoc read against a file other than the active one. The caller is
// responsible for closing it via the returned close function.
func (s *Store) Ephemeral(ctx context.Context, path string) (router.Engine, func() error, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "embedded: open ephemeral connection")
	}
	if s.cfg.Threads > 0 {
		db.SetMaxOpenConns(s.cfg.Threads)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "embedded: ping ephemeral connection")
	}
	return enginepool.WrapSQLDB(db, dialect.EmbeddedColumnar), db.Close, nil
}

// Close disposes the shared connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared.Close()
}

func readMarker(markerPath string) string {
	if markerPath == "" {
		return ""
	}
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeMarker(markerPath, path string) error {
	if markerPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(markerPath, []byte(path), 0o644)
}
