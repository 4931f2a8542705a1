package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SyncMode enumerates the two replication strategies.
type SyncMode string

// The two modes.
const (
	ModeSequence SyncMode = "sequence"
	ModeSnapshot SyncMode = "snapshot"
)

// GroupKey returns the mutual-exclusion key for a (datasource, source,
// destination) triple:
// `groupKey = hash(datasourceId, sourceSchema, sourceTable, destTable)`.
func GroupKey(datasourceID, sourceSchema, sourceTable, destTable string) string {
	h := sha256.New()
	for _, part := range []string{datasourceID, sourceSchema, sourceTable, destTable} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SyncTask describes one configured incremental-sync job.
type SyncTask struct {
	ID             string
	DatasourceID   string
	SourceSchema   string
	SourceTable    string
	DestTable      string
	Mode           SyncMode
	PKColumns      []string
	SelectColumns  []string
	SequenceColumn string
	BatchSize      int
	ScheduleCron   string
	Enabled        bool
	GroupKey       string
	CustomQuery    string
}

// SyncProgressPhase enumerates the two phases of a batch copy under the
// engine's cooperative-abort contract.
type SyncProgressPhase string

// The two phases.
const (
	PhaseFetch  SyncProgressPhase = "fetch"
	PhaseInsert SyncProgressPhase = "insert"
)

// SyncState is the one-per-task mutable run state.
type SyncState struct {
	TaskID             string
	LastSequenceValue  *string
	LastRunAt          *time.Time
	LastRowCount       *int64
	InProgress         bool
	CancelRequested    bool
	ProgressCurrent    int64
	ProgressTotal      int64
	ProgressPhase      SyncProgressPhase
	StartedAt          *time.Time
	Error              string
	LastEmbeddedPath   string
}

// SyncRun is one append-only log entry for a task invocation.
type SyncRun struct {
	ID           string
	TaskID       string
	DatasourceID string
	Mode         SyncMode
	StartedAt    time.Time
	FinishedAt   *time.Time
	RowCount     *int64
	Error        string
}

// SyncLock is the mutual-exclusion row for an in-flight destination
// group.
type SyncLock struct {
	GroupKey  string
	Token     string
	CreatedAt time.Time
}

// StuckJobThreshold is the heartbeat-staleness window beyond which an
// in-progress SyncState or an orphaned SyncLock is considered
// recoverable.
const StuckJobThreshold = 30 * time.Minute
