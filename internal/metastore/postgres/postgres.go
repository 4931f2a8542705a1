// Package postgres implements the core's types.MetadataStore against a
// postgres-family database: the externally-owned Datasource/SyncTask
// tables are read-only here, while SyncState, SyncRun, and SyncLock are
// owned and written exclusively by this package.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/types"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx this store needs,
// letting Store run identically against the pool or a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a types.MetadataStore backed by pgx, generalizing a single
// staging pool bound to one destination schema into one store spanning
// five metadata tables.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

var _ types.MetadataStore = (*Store)(nil)

// New wraps an already-opened pool. Callers obtain the pool the same way
// the engine pool does (pgxpool.ParseConfig + pgxpool.NewWithConfig); run
// Bootstrap once against the same DSN before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

func (s *Store) GetDatasource(ctx context.Context, id string) (*types.Datasource, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, kind, name, encrypted_conn, owner_id, active,
		       max_concurrent_syncs, options, blackouts
		FROM datasource WHERE id = $1`, id)

	var ds types.Datasource
	var optionsJSON, blackoutsJSON []byte
	err := row.Scan(&ds.ID, &ds.Kind, &ds.Name, &ds.EncryptedConn, &ds.OwnerID,
		&ds.Active, &ds.MaxConcurrentSyncs, &optionsJSON, &blackoutsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "metastore: get datasource")
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &ds.Options); err != nil {
			return nil, errors.Wrap(err, "metastore: decode datasource options")
		}
	}
	if len(blackoutsJSON) > 0 {
		if err := json.Unmarshal(blackoutsJSON, &ds.Blackouts); err != nil {
			return nil, errors.Wrap(err, "metastore: decode datasource blackouts")
		}
	}
	return &ds, nil
}

func (s *Store) ListSyncTasks(ctx context.Context, datasourceID string) ([]types.SyncTask, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, datasource_id, source_schema, source_table, dest_table, mode,
		       pk_columns, select_columns, sequence_column, batch_size,
		       schedule_cron, enabled, group_key, custom_query
		FROM sync_task WHERE datasource_id = $1 AND enabled = true`, datasourceID)
	if err != nil {
		return nil, errors.Wrap(err, "metastore: list sync tasks")
	}
	defer rows.Close()

	var out []types.SyncTask
	for rows.Next() {
		var t types.SyncTask
		if err := rows.Scan(&t.ID, &t.DatasourceID, &t.SourceSchema, &t.SourceTable,
			&t.DestTable, &t.Mode, &t.PKColumns, &t.SelectColumns, &t.SequenceColumn,
			&t.BatchSize, &t.ScheduleCron, &t.Enabled, &t.GroupKey, &t.CustomQuery); err != nil {
			return nil, errors.Wrap(err, "metastore: scan sync task")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetSyncTask(ctx context.Context, taskID string) (*types.SyncTask, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, datasource_id, source_schema, source_table, dest_table, mode,
		       pk_columns, select_columns, sequence_column, batch_size,
		       schedule_cron, enabled, group_key, custom_query
		FROM sync_task WHERE id = $1`, taskID)

	var t types.SyncTask
	err := row.Scan(&t.ID, &t.DatasourceID, &t.SourceSchema, &t.SourceTable,
		&t.DestTable, &t.Mode, &t.PKColumns, &t.SelectColumns, &t.SequenceColumn,
		&t.BatchSize, &t.ScheduleCron, &t.Enabled, &t.GroupKey, &t.CustomQuery)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "metastore: get sync task")
	}
	return &t, nil
}

func (s *Store) GetSyncState(ctx context.Context, taskID string) (*types.SyncState, error) {
	row := s.q.QueryRow(ctx, `
		SELECT task_id, last_sequence_value, last_run_at, last_row_count,
		       in_progress, cancel_requested, progress_current, progress_total,
		       progress_phase, started_at, error, last_embedded_path
		FROM sync_state WHERE task_id = $1`, taskID)

	var st types.SyncState
	var phase string
	err := row.Scan(&st.TaskID, &st.LastSequenceValue, &st.LastRunAt, &st.LastRowCount,
		&st.InProgress, &st.CancelRequested, &st.ProgressCurrent, &st.ProgressTotal,
		&phase, &st.StartedAt, &st.Error, &st.LastEmbeddedPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "metastore: get sync state")
	}
	st.ProgressPhase = types.SyncProgressPhase(phase)
	return &st, nil
}

func (s *Store) PutSyncState(ctx context.Context, state *types.SyncState) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_state (task_id, last_sequence_value, last_run_at, last_row_count,
		       in_progress, cancel_requested, progress_current, progress_total,
		       progress_phase, started_at, error, last_embedded_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id) DO UPDATE SET
		       last_sequence_value = EXCLUDED.last_sequence_value,
		       last_run_at = EXCLUDED.last_run_at,
		       last_row_count = EXCLUDED.last_row_count,
		       in_progress = EXCLUDED.in_progress,
		       cancel_requested = EXCLUDED.cancel_requested,
		       progress_current = EXCLUDED.progress_current,
		       progress_total = EXCLUDED.progress_total,
		       progress_phase = EXCLUDED.progress_phase,
		       started_at = EXCLUDED.started_at,
		       error = EXCLUDED.error,
		       last_embedded_path = EXCLUDED.last_embedded_path`,
		state.TaskID, state.LastSequenceValue, state.LastRunAt, state.LastRowCount,
		state.InProgress, state.CancelRequested, state.ProgressCurrent, state.ProgressTotal,
		string(state.ProgressPhase), state.StartedAt, state.Error, state.LastEmbeddedPath)
	if err != nil {
		return errors.Wrap(err, "metastore: put sync state")
	}
	return nil
}

func (s *Store) InsertSyncRun(ctx context.Context, run *types.SyncRun) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO sync_run (id, task_id, datasource_id, mode, started_at, finished_at, row_count, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.TaskID, run.DatasourceID, string(run.Mode), run.StartedAt,
		run.FinishedAt, run.RowCount, run.Error)
	if err != nil {
		return errors.Wrap(err, "metastore: insert sync run")
	}
	return nil
}

func (s *Store) UpdateSyncRun(ctx context.Context, run *types.SyncRun) error {
	_, err := s.q.Exec(ctx, `
		UPDATE sync_run SET finished_at = $1, row_count = $2, error = $3 WHERE id = $4`,
		run.FinishedAt, run.RowCount, run.Error, run.ID)
	if err != nil {
		return errors.Wrap(err, "metastore: update sync run")
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, taskID string, limit int) ([]types.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, task_id, datasource_id, mode, started_at, finished_at, row_count, error
		FROM sync_run WHERE task_id = $1 ORDER BY started_at DESC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "metastore: list sync runs")
	}
	defer rows.Close()

	var out []types.SyncRun
	for rows.Next() {
		var r types.SyncRun
		var mode string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.DatasourceID, &mode, &r.StartedAt,
			&r.FinishedAt, &r.RowCount, &r.Error); err != nil {
			return nil, errors.Wrap(err, "metastore: scan sync run")
		}
		r.Mode = types.SyncMode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AcquireLock(ctx context.Context, groupKey, token string) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO sync_lock (group_key, token, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (group_key) DO NOTHING`, groupKey, token, time.Now())
	if err != nil {
		return errors.Wrap(err, "metastore: acquire lock")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("metastore: lock %q already held", groupKey)
	}
	return nil
}

func (s *Store) ReleaseLock(ctx context.Context, groupKey, token string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM sync_lock WHERE group_key = $1 AND token = $2`, groupKey, token)
	if err != nil {
		return errors.Wrap(err, "metastore: release lock")
	}
	return nil
}

func (s *Store) ForceReleaseLock(ctx context.Context, groupKey string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM sync_lock WHERE group_key = $1`, groupKey)
	if err != nil {
		return errors.Wrap(err, "metastore: force-release lock")
	}
	return nil
}

func (s *Store) GetLock(ctx context.Context, groupKey string) (*types.SyncLock, error) {
	row := s.q.QueryRow(ctx, `SELECT group_key, token, created_at FROM sync_lock WHERE group_key = $1`, groupKey)
	var l types.SyncLock
	err := row.Scan(&l.GroupKey, &l.Token, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "metastore: get lock")
	}
	return &l, nil
}

func (s *Store) ListStaleInProgress(ctx context.Context) ([]types.SyncState, error) {
	cutoff := time.Now().Add(-types.StuckJobThreshold)
	rows, err := s.q.Query(ctx, `
		SELECT task_id, last_sequence_value, last_run_at, last_row_count,
		       in_progress, cancel_requested, progress_current, progress_total,
		       progress_phase, started_at, error, last_embedded_path
		FROM sync_state WHERE in_progress = true AND started_at < $1`, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "metastore: list stale in-progress states")
	}
	defer rows.Close()

	var out []types.SyncState
	for rows.Next() {
		var st types.SyncState
		var phase string
		if err := rows.Scan(&st.TaskID, &st.LastSequenceValue, &st.LastRunAt, &st.LastRowCount,
			&st.InProgress, &st.CancelRequested, &st.ProgressCurrent, &st.ProgressTotal,
			&phase, &st.StartedAt, &st.Error, &st.LastEmbeddedPath); err != nil {
			return nil, errors.Wrap(err, "metastore: scan stale sync state")
		}
		st.ProgressPhase = types.SyncProgressPhase(phase)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx types.MetadataStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "metastore: begin transaction")
	}
	txStore := &Store{pool: s.pool, q: tx}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.WithError(rbErr).Warn("metastore: rollback failed after transaction error")
		}
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "metastore: commit transaction")
}
