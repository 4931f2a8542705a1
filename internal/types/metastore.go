package types

import "context"

// MetadataStore is the external persistent metadata collaborator: a
// transactional store holding Datasource, SyncTask, SyncState, SyncRun,
// and SyncLock rows. The core only consumes Datasource/SyncTask (created
// externally) and owns writes to the other three tables.
//
// Implementations must provide real transactional semantics: SyncLock is
// the cross-process source of truth for mutual exclusion, and SyncState
// updates made inside WithTx must be visible to the coordinator's
// concurrent abort check (a GetSyncState read) outside that transaction
// once committed — an
// independent metadata-store read must not be shadowed by the executing
// session.
type MetadataStore interface {
	// GetDatasource returns the datasource by ID.
	GetDatasource(ctx context.Context, id string) (*Datasource, error)

	// ListSyncTasks returns the enabled tasks for a datasource.
	ListSyncTasks(ctx context.Context, datasourceID string) ([]SyncTask, error)
	// GetSyncTask returns a single task by ID.
	GetSyncTask(ctx context.Context, taskID string) (*SyncTask, error)

	// GetSyncState returns the state for a task, or (nil, nil) if none has
	// been created yet; SyncState is created lazily on first run.
	GetSyncState(ctx context.Context, taskID string) (*SyncState, error)
	// PutSyncState upserts the state for a task.
	PutSyncState(ctx context.Context, state *SyncState) error

	// InsertSyncRun appends a new run-log row.
	InsertSyncRun(ctx context.Context, run *SyncRun) error
	// UpdateSyncRun updates an existing run-log row (finish time, row
	// count, error) identified by ID.
	UpdateSyncRun(ctx context.Context, run *SyncRun) error
	// ListSyncRuns returns the run log for a task, most recent first.
	ListSyncRuns(ctx context.Context, taskID string, limit int) ([]SyncRun, error)

	// AcquireLock creates a SyncLock row for groupKey, failing if one
	// already exists.
	AcquireLock(ctx context.Context, groupKey, token string) error
	// ReleaseLock deletes the SyncLock row for groupKey, if owned by
	// token.
	ReleaseLock(ctx context.Context, groupKey, token string) error
	// ForceReleaseLock deletes the SyncLock row for groupKey
	// unconditionally, used by force-run and orphan recovery.
	ForceReleaseLock(ctx context.Context, groupKey string) error
	// GetLock returns the current lock for groupKey, or (nil, nil) if
	// unlocked.
	GetLock(ctx context.Context, groupKey string) (*SyncLock, error)

	// ListStaleInProgress returns SyncStates whose StartedAt is older than
	// StuckJobThreshold ago and are still InProgress, for stuck-job
	// recovery.
	ListStaleInProgress(ctx context.Context) ([]SyncState, error)

	// WithTx runs fn within a transactional MetadataStore, committing on a
	// nil return and rolling back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx MetadataStore) error) error
}
