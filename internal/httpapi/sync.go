package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/querysync/core/internal/apperror"
	"github.com/querysync/core/internal/sync/coordinator"
	"github.com/querysync/core/internal/types"
)

// syncRunResponse mirrors coordinator.RunResult in wire form.
type syncRunResponse struct {
	Results []syncTaskResult `json:"results"`
}

type syncTaskResult struct {
	TaskID   string `json:"taskId"`
	RowCount int64  `json:"rowCount"`
	Aborted  bool   `json:"aborted"`
	Error    string `json:"error,omitempty"`
}

func toSyncRunResponse(r coordinator.RunResult) syncRunResponse {
	out := syncRunResponse{Results: make([]syncTaskResult, len(r.Results))}
	for i, tr := range r.Results {
		out.Results[i] = syncTaskResult{TaskID: tr.TaskID, RowCount: tr.RowCount, Aborted: tr.Aborted, Error: tr.Error}
	}
	return out
}

// handleSyncRun implements `POST /datasources/{id}/sync/run?taskId?&execute?`.
// execute=false is a dry run: it returns the ids of the tasks that would
// run and stops before any gate or lock check. Any other value, or no
// execute parameter, runs the tasks.
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	actor := actorFrom(r)

	ds, dsn, err := s.resolveDatasource(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}

	tasks, err := s.Meta.ListSyncTasks(ctx, id)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, err, "listing sync tasks"))
		return
	}
	if taskID := r.URL.Query().Get("taskId"); taskID != "" {
		tasks = filterTask(tasks, taskID)
		if len(tasks) == 0 {
			writeError(w, apperror.Newf(apperror.NotFound, "sync task %q not found for datasource %q", taskID, id))
			return
		}
	}

	if execute := r.URL.Query().Get("execute"); execute == "false" {
		writeJSON(w, map[string]any{"wouldRun": taskIDs(tasks)})
		return
	}

	result, err := s.Coord.Run(ctx, coordinator.RunRequest{
		Datasource: ds,
		SourceDSN:  dsn,
		Tasks:      tasks,
		ForceRun:   r.URL.Query().Get("force") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toSyncRunResponse(result))
}

// handleSyncFlush implements
// `POST /datasources/{id}/sync-tasks/{taskId}/flush`: run a single task
// immediately, ignoring its schedule, the same lock/gate path as sync/run.
func (s *Server) handleSyncFlush(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	taskID := r.PathValue("taskId")
	ctx := r.Context()
	actor := actorFrom(r)

	ds, dsn, err := s.resolveDatasource(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}
	task, err := s.Meta.GetSyncTask(ctx, taskID)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, err, "loading sync task"))
		return
	}
	if task == nil || task.DatasourceID != id {
		writeError(w, apperror.Newf(apperror.NotFound, "sync task %q not found for datasource %q", taskID, id))
		return
	}

	result, err := s.Coord.Run(ctx, coordinator.RunRequest{
		Datasource: ds,
		SourceDSN:  dsn,
		Tasks:      []types.SyncTask{*task},
		ForceRun:   true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toSyncRunResponse(result))
}

// handleSyncAbort implements `POST /datasources/{id}/sync/abort?taskId?`:
// sets CancelRequested on the named task's (or every task's) SyncState,
// the cooperative-cancellation contract a running sync task polls for.
func (s *Server) handleSyncAbort(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	actor := actorFrom(r)

	ds, _, err := s.resolveDatasource(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}

	tasks, err := s.Meta.ListSyncTasks(ctx, id)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, err, "listing sync tasks"))
		return
	}
	if taskID := r.URL.Query().Get("taskId"); taskID != "" {
		tasks = filterTask(tasks, taskID)
	}

	aborted := make([]string, 0, len(tasks))
	for _, task := range tasks {
		state, err := s.Meta.GetSyncState(ctx, task.ID)
		if err != nil {
			continue
		}
		if state == nil {
			state = &types.SyncState{TaskID: task.ID}
		}
		state.CancelRequested = true
		if err := s.Meta.PutSyncState(ctx, state); err == nil {
			aborted = append(aborted, task.ID)
		}
	}
	writeJSON(w, map[string]any{"aborted": aborted})
}

// handleResetStuck implements `POST /datasources/{id}/sync/reset-stuck`.
// The admin operation is datasource-agnostic (it scans every stale
// SyncState); the path parameter is accepted for routing symmetry with the
// rest of the sync plane but does not scope the scan.
func (s *Server) handleResetStuck(w http.ResponseWriter, r *http.Request) {
	n, err := s.Coord.ResetStuck(r.Context())
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, err, "resetting stuck jobs"))
		return
	}
	writeJSON(w, map[string]int{"reset": n})
}

// syncStatusEntry is one task's status line in `GET .../sync/status`.
type syncStatusEntry struct {
	TaskID          string  `json:"taskId"`
	InProgress      bool    `json:"inProgress"`
	CancelRequested bool    `json:"cancelRequested"`
	ProgressCurrent int64   `json:"progressCurrent"`
	ProgressTotal   int64   `json:"progressTotal"`
	LastRunAt       *string `json:"lastRunAt,omitempty"`
	LastRowCount    *int64  `json:"lastRowCount,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	tasks, err := s.Meta.ListSyncTasks(ctx, id)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, err, "listing sync tasks"))
		return
	}
	if taskID := r.URL.Query().Get("taskId"); taskID != "" {
		tasks = filterTask(tasks, taskID)
	}

	entries := make([]syncStatusEntry, 0, len(tasks))
	for _, task := range tasks {
		state, err := s.Meta.GetSyncState(ctx, task.ID)
		if err != nil || state == nil {
			entries = append(entries, syncStatusEntry{TaskID: task.ID})
			continue
		}
		entry := syncStatusEntry{
			TaskID: task.ID, InProgress: state.InProgress, CancelRequested: state.CancelRequested,
			ProgressCurrent: state.ProgressCurrent, ProgressTotal: state.ProgressTotal,
			LastRowCount: state.LastRowCount, Error: state.Error,
		}
		if state.LastRunAt != nil {
			ts := state.LastRunAt.UTC().Format(time.RFC3339Nano)
			entry.LastRunAt = &ts
		}
		entries = append(entries, entry)
	}
	writeJSON(w, map[string]any{"tasks": entries})
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		writeError(w, apperror.New(apperror.BadRequest, "taskId query parameter is required"))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.Meta.ListSyncRuns(r.Context(), taskID, limit)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.Internal, err, "listing sync runs"))
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleEngineDispose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ds.Kind != types.KindEmbeddedColumnar && dsn != "" {
		s.Pool.Dispose(dsn)
	}
	writeJSON(w, map[string]bool{"disposed": true})
}

func (s *Server) handleEnginesDisposeAll(w http.ResponseWriter, r *http.Request) {
	s.Pool.DisposeAll()
	writeJSON(w, map[string]bool{"disposed": true})
}

func filterTask(tasks []types.SyncTask, taskID string) []types.SyncTask {
	for _, t := range tasks {
		if t.ID == taskID {
			return []types.SyncTask{t}
		}
	}
	return nil
}

func taskIDs(tasks []types.SyncTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
