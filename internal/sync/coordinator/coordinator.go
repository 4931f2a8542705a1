// Package coordinator provides the datasource-level gate
// (active/blackout/concurrency), the per-groupKey lock table, task
// ordering, and the per-task lifecycle that wraps the sync engine.
package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/apperror"
	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/ingest"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sync/engine"
	"github.com/querysync/core/internal/types"
)

// Coordinator orchestrates one or more SyncTasks per request against a
// single datasource.
type Coordinator struct {
	meta     types.MetadataStore
	engine   *engine.Engine
	ingest   *ingest.Runner
	embedded *embedded.Store
}

// New constructs a Coordinator. ing drives http-api datasource tasks; it
// may be nil if the deployment never configures an http-api datasource.
func New(meta types.MetadataStore, eng *engine.Engine, ing *ingest.Runner, store *embedded.Store) *Coordinator {
	return &Coordinator{meta: meta, engine: eng, ingest: ing, embedded: store}
}

// ProgressFunc and AbortFunc are per-task callbacks a caller supplies to
// observe and cancel a running request; the coordinator always combines
// AbortFunc with a live re-read of the task's SyncState.CancelRequested.
type ProgressFunc func(taskID string, phase types.SyncProgressPhase, current, total int64)
type AbortFunc func(taskID string) bool

// RunRequest describes a sync-run invocation against a datasource.
type RunRequest struct {
	Datasource types.Datasource
	SourceDSN  string
	// Tasks is the set of enabled tasks to run (the caller has already
	// applied any `taskId` filter from the HTTP request).
	Tasks    []types.SyncTask
	ForceRun bool
	Progress ProgressFunc
	Aborted  AbortFunc
}

// TaskResult is the per-task outcome of a Run call.
type TaskResult struct {
	TaskID   string
	RowCount int64
	Aborted  bool
	Error    string
}

// RunResult is the outcome of an entire Run call.
type RunResult struct {
	Results []TaskResult
}

// Run executes req.Tasks against req.Datasource, applying the
// datasource gate, lock table, task ordering, and per-task lifecycle.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if !req.Datasource.Active {
		return RunResult{}, apperror.New(apperror.Conflict, "datasource is inactive")
	}
	if inBlackout(time.Now(), req.Datasource.Blackouts) {
		return RunResult{}, apperror.New(apperror.Conflict, "datasource is within a blackout window")
	}

	inProgress, err := c.inProgressCount(ctx, req.Datasource.ID)
	if err != nil {
		return RunResult{}, errors.Wrap(err, "coordinator: count in-progress tasks")
	}
	maxConcurrent := req.Datasource.MaxConcurrentSyncs
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if inProgress >= maxConcurrent {
		return RunResult{}, apperror.New(apperror.Conflict, "datasource has reached its maximum concurrent syncs")
	}

	groupKeys := distinctSortedGroupKeys(req.Tasks)
	token := uuid.NewString()
	acquired, err := c.acquireLocks(ctx, groupKeys, token, req.ForceRun)
	if err != nil {
		c.releaseLocks(ctx, acquired, token)
		return RunResult{}, err
	}
	defer c.releaseLocks(ctx, acquired, token)

	ordered := orderTasks(req.Tasks)

	result := RunResult{Results: make([]TaskResult, 0, len(ordered))}
	for _, task := range ordered {
		tr := c.runTask(ctx, req, task)
		result.Results = append(result.Results, tr)

		if task.Mode == types.ModeSnapshot && tr.Error == "" && !tr.Aborted {
			c.refreshSiblingWatermarks(ctx, req, task)
		}
	}
	return result, nil
}

func (c *Coordinator) inProgressCount(ctx context.Context, datasourceID string) (int, error) {
	tasks, err := c.meta.ListSyncTasks(ctx, datasourceID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tasks {
		state, err := c.meta.GetSyncState(ctx, t.ID)
		if err != nil {
			return 0, err
		}
		if state != nil && state.InProgress {
			count++
		}
	}
	return count, nil
}

func distinctSortedGroupKeys(tasks []types.SyncTask) []string {
	seen := map[string]bool{}
	var keys []string
	for _, t := range tasks {
		if !seen[t.GroupKey] {
			seen[t.GroupKey] = true
			keys = append(keys, t.GroupKey)
		}
	}
	sort.Strings(keys)
	return keys
}

// acquireLocks acquires locks in lexicographic groupKey order so two
// overlapping requests naming the same two groups never deadlock against
// each other. On any failure it returns the locks already acquired so
// the caller can release them.
func (c *Coordinator) acquireLocks(ctx context.Context, groupKeys []string, token string, force bool) ([]string, error) {
	var acquired []string
	for _, key := range groupKeys {
		if force {
			if err := c.meta.ForceReleaseLock(ctx, key); err != nil {
				return acquired, errors.Wrap(err, "coordinator: force-release existing lock")
			}
		}
		if err := c.meta.AcquireLock(ctx, key, token); err != nil {
			return acquired, apperror.New(apperror.Conflict, "sync already in progress for one or more destinations")
		}
		acquired = append(acquired, key)
	}
	return acquired, nil
}

func (c *Coordinator) releaseLocks(ctx context.Context, groupKeys []string, token string) {
	for _, key := range groupKeys {
		if err := c.meta.ReleaseLock(ctx, key, token); err != nil {
			log.WithError(err).WithField("groupKey", key).Warn("coordinator: failed to release sync lock")
		}
	}
}

// orderTasks returns tasks with every snapshot-mode task ahead of every
// sequence-mode task, preserving relative order within each group.
func orderTasks(tasks []types.SyncTask) []types.SyncTask {
	ordered := make([]types.SyncTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Mode == types.ModeSnapshot {
			ordered = append(ordered, t)
		}
	}
	for _, t := range tasks {
		if t.Mode != types.ModeSnapshot {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

func (c *Coordinator) runTask(ctx context.Context, req RunRequest, task types.SyncTask) TaskResult {
	state, err := c.meta.GetSyncState(ctx, task.ID)
	if err != nil {
		return TaskResult{TaskID: task.ID, Error: err.Error()}
	}
	if state == nil {
		state = &types.SyncState{TaskID: task.ID}
		if task.Mode == types.ModeSequence {
			state.LastSequenceValue = c.initialWatermark(ctx, task)
		}
	}

	activePath := c.embedded.ActivePath()
	if task.Mode == types.ModeSequence && state.LastEmbeddedPath != "" && state.LastEmbeddedPath != activePath {
		// A new embedded file starts empty; replaying from the old
		// watermark would skip every row the new file doesn't have yet.
		state.LastSequenceValue = nil
	}

	now := time.Now()
	state.InProgress = true
	state.CancelRequested = false
	state.StartedAt = &now
	state.Error = ""
	if err := c.meta.PutSyncState(ctx, state); err != nil {
		return TaskResult{TaskID: task.ID, Error: err.Error()}
	}

	run := &types.SyncRun{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		DatasourceID: req.Datasource.ID,
		Mode:         task.Mode,
		StartedAt:    now,
	}
	if err := c.meta.InsertSyncRun(ctx, run); err != nil {
		log.WithError(err).WithField("taskID", task.ID).Warn("coordinator: failed to insert sync run log")
	}

	progress := func(phase types.SyncProgressPhase, current, total int64) {
		state.ProgressPhase = phase
		state.ProgressCurrent = current
		state.ProgressTotal = total
		if req.Progress != nil {
			req.Progress(task.ID, phase, current, total)
		}
	}
	aborted := func() bool {
		if req.Aborted != nil && req.Aborted(task.ID) {
			return true
		}
		// Independent metadata-store read: a concurrent abort request
		// writes CancelRequested via a different SyncState fetched
		// outside this call's in-memory state, so re-read rather than
		// trust the closed-over variable.
		live, err := c.meta.GetSyncState(ctx, task.ID)
		return err == nil && live != nil && live.CancelRequested
	}

	tr := TaskResult{TaskID: task.ID}
	var rowCount int64
	var runErr error
	var runAborted bool

	switch {
	case req.Datasource.Kind == types.KindHTTPAPI:
		rowCount, runAborted, runErr = c.runIngestTask(ctx, task, progress, aborted)
	case task.Mode == types.ModeSnapshot:
		res, err := c.engine.RunSnapshot(ctx, engine.SnapshotInput{
			Source:        req.Datasource,
			SourceDSN:     req.SourceDSN,
			SourceSchema:  task.SourceSchema,
			SourceTable:   task.SourceTable,
			CustomQuery:   task.CustomQuery,
			DestTable:     task.DestTable,
			SelectColumns: task.SelectColumns,
			Progress:      progress,
			Aborted:       aborted,
		})
		rowCount, runAborted, runErr = res.RowCount, res.Aborted, err
	default:
		res, err := c.engine.RunSequence(ctx, engine.SequenceInput{
			Source:            req.Datasource,
			SourceDSN:         req.SourceDSN,
			SourceSchema:      task.SourceSchema,
			SourceTable:       task.SourceTable,
			CustomQuery:       task.CustomQuery,
			DestTable:         task.DestTable,
			SequenceColumn:    task.SequenceColumn,
			PKColumns:         task.PKColumns,
			SelectColumns:     task.SelectColumns,
			LastSequenceValue: state.LastSequenceValue,
			BatchSize:         task.BatchSize,
			Progress:          progress,
			Aborted:           aborted,
		})
		if err == nil {
			state.LastSequenceValue = res.LastSequenceValue
		}
		rowCount, runAborted, runErr = res.RowCount, res.Aborted, err
	}

	finished := time.Now()
	state.InProgress = false
	state.StartedAt = nil
	state.LastRunAt = &finished
	state.LastRowCount = &rowCount
	state.LastEmbeddedPath = c.embedded.ActivePath()
	tr.RowCount = rowCount
	tr.Aborted = runAborted
	if runErr != nil {
		state.Error = runErr.Error()
		tr.Error = runErr.Error()
	}
	if err := c.meta.PutSyncState(ctx, state); err != nil {
		log.WithError(err).WithField("taskID", task.ID).Warn("coordinator: failed to persist final sync state")
	}

	run.FinishedAt = &finished
	run.RowCount = &rowCount
	run.Error = tr.Error
	if err := c.meta.UpdateSyncRun(ctx, run); err != nil {
		log.WithError(err).WithField("taskID", task.ID).Warn("coordinator: failed to update sync run log")
	}

	return tr
}

// runIngestTask dispatches an http-api datasource's task to the ingest
// runner, decoding its CustomQuery payload as an ingest.Config (its
// endpoint definition, stored in the slot a SQL-family task would use for
// a raw query string).
func (c *Coordinator) runIngestTask(ctx context.Context, task types.SyncTask, progress func(types.SyncProgressPhase, int64, int64), aborted func() bool) (int64, bool, error) {
	if c.ingest == nil {
		return 0, false, errors.New("coordinator: no ingest runner configured for an http-api datasource")
	}
	var cfg ingest.Config
	if err := json.Unmarshal([]byte(task.CustomQuery), &cfg); err != nil {
		return 0, false, errors.Wrap(err, "coordinator: decode ingest config")
	}
	res, err := c.ingest.Run(ctx, cfg, task.DestTable, progress, aborted)
	return res.RowCount, res.Aborted, err
}

// initialWatermark seeds the sequence watermark from MAX(seqCol) of any
// existing destination for a task whose SyncState is being created for
// the first time — e.g. a destination table seeded outside this engine.
func (c *Coordinator) initialWatermark(ctx context.Context, task types.SyncTask) *string {
	if !c.embedded.HasTable(ctx, task.DestTable) {
		return nil
	}
	return maxOfColumn(ctx, c.embedded, task.DestTable, task.SequenceColumn)
}

// refreshSiblingWatermarks runs after a snapshot completes: every
// sequence task sharing its groupKey is refreshed against the
// freshly-populated destination so it doesn't replay rows the snapshot
// just wrote.
func (c *Coordinator) refreshSiblingWatermarks(ctx context.Context, req RunRequest, snapshot types.SyncTask) {
	siblings, err := c.meta.ListSyncTasks(ctx, req.Datasource.ID)
	if err != nil {
		log.WithError(err).Warn("coordinator: failed to list sibling tasks for watermark refresh")
		return
	}
	for _, sib := range siblings {
		if sib.Mode != types.ModeSequence || sib.GroupKey != snapshot.GroupKey || sib.ID == snapshot.ID {
			continue
		}
		watermark := maxOfColumn(ctx, c.embedded, sib.DestTable, sib.SequenceColumn)
		state, err := c.meta.GetSyncState(ctx, sib.ID)
		if err != nil {
			continue
		}
		if state == nil {
			state = &types.SyncState{TaskID: sib.ID}
		}
		state.LastSequenceValue = watermark
		state.LastEmbeddedPath = c.embedded.ActivePath()
		if err := c.meta.PutSyncState(ctx, state); err != nil {
			log.WithError(err).WithField("taskID", sib.ID).Warn("coordinator: failed to refresh sibling watermark")
		}
	}
}

func maxOfColumn(ctx context.Context, store *embedded.Store, table, column string) *string {
	quotedTable := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	quotedCol := ident.QuoteIdent(dialect.EmbeddedColumnar, column)
	var val sql.NullString
	row := store.RawDB().QueryRowContext(ctx, "SELECT MAX("+quotedCol+") FROM "+quotedTable)
	if err := row.Scan(&val); err != nil || !val.Valid {
		return nil
	}
	return &val.String
}

// ResetStuck is the administrative reset-stuck operation: clear
// inProgress on every SyncState whose heartbeat is older than
// StuckJobThreshold, and force-release its task's lock so a future request
// isn't blocked by a run that will never call its own finally block.
func (c *Coordinator) ResetStuck(ctx context.Context) (int, error) {
	stale, err := c.meta.ListStaleInProgress(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "coordinator: list stale in-progress states")
	}
	for i := range stale {
		state := stale[i]
		state.InProgress = false
		state.StartedAt = nil
		state.Error = "reset-stuck: heartbeat exceeded " + types.StuckJobThreshold.String()
		if err := c.meta.PutSyncState(ctx, &state); err != nil {
			log.WithError(err).WithField("taskID", state.TaskID).Warn("coordinator: failed to clear stuck sync state")
			continue
		}
		if task, err := c.meta.GetSyncTask(ctx, state.TaskID); err == nil && task != nil {
			if err := c.meta.ForceReleaseLock(ctx, task.GroupKey); err != nil {
				log.WithError(err).WithField("groupKey", task.GroupKey).Warn("coordinator: failed to force-release orphaned lock")
			}
		}
	}
	return len(stale), nil
}

// inBlackout reports whether now's time-of-day falls within any of
// windows, each possibly wrapping midnight. Windows are evaluated in
// UTC; per-datasource timezone configuration is out of scope (see
// DESIGN.md).
func inBlackout(now time.Time, windows []types.BlackoutWindow) bool {
	cur := now.UTC().Hour()*60 + now.UTC().Minute()
	for _, w := range windows {
		start, ok1 := parseHHMM(w.Start)
		end, ok2 := parseHHMM(w.End)
		if !ok1 || !ok2 {
			continue
		}
		if start <= end {
			if cur >= start && cur < end {
				return true
			}
		} else {
			// Wraps midnight, e.g. 22:00-06:00.
			if cur >= start || cur < end {
				return true
			}
		}
	}
	return false
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := atoiStrict(parts[0])
	m, err2 := atoiStrict(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func atoiStrict(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("non-digit %q", r)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
