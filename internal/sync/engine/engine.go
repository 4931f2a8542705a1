// Package engine implements the sequence (watermark) and snapshot
// replicators that copy rows from a source datasource into the embedded
// store, sharing a single progress/abort contract: accumulate a batch,
// flush it, advance and persist a checkpoint, and check for a stop
// request between steps.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/types"
	"github.com/querysync/core/internal/util/msort"
)

// sampleSize bounds how many rows feed type inference, shared by both the
// sequence and snapshot paths.
const sampleSize = 64

// ProgressFunc reports a phase boundary's cumulative/total row counts,
// called before and after each insert.
type ProgressFunc func(phase types.SyncProgressPhase, current, total int64)

// AbortFunc reports whether the in-flight run has been asked to cancel. It
// is consulted between batches and on phase boundaries, and must read
// independent state rather than a value cached at run start.
type AbortFunc func() bool

// Engine drives both replication modes against a source Datasource and the
// process's embedded store.
type Engine struct {
	router   *router.Router
	embedded *embedded.Store
}

// New constructs an Engine.
func New(r *router.Router, store *embedded.Store) *Engine {
	return &Engine{router: r, embedded: store}
}

// SequenceInput is the sequence-mode request.
type SequenceInput struct {
	Source            types.Datasource
	SourceDSN         string
	SourceSchema      string
	SourceTable       string
	CustomQuery       string
	DestTable         string
	SequenceColumn    string
	PKColumns         []string
	SelectColumns     []string
	LastSequenceValue *string
	BatchSize         int
	MaxBatches        int
	Progress          ProgressFunc
	Aborted           AbortFunc
}

// SequenceResult is the sequence-mode response.
type SequenceResult struct {
	RowCount          int64
	LastSequenceValue *string
	Aborted           bool
}

// RunSequence appends/upserts rows newer than LastSequenceValue, at most
// MaxBatches times, advancing the watermark to the observed MAX(seqCol).
func (e *Engine) RunSequence(ctx context.Context, in SequenceInput) (SequenceResult, error) {
	if in.BatchSize <= 0 {
		in.BatchSize = 1000
	}
	sourceDialect := in.Source.Kind.SQLDialect()
	dest := e.embedded.Engine()

	result := SequenceResult{LastSequenceValue: in.LastSequenceValue}
	last := in.LastSequenceValue

	for batchNum := 0; in.MaxBatches <= 0 || batchNum < in.MaxBatches; batchNum++ {
		if aborted(in.Aborted) {
			result.Aborted = true
			return result, nil
		}

		reportProgress(in.Progress, types.PhaseFetch, result.RowCount, result.RowCount)

		sql, args := buildSequenceSelect(sourceDialect, in, last)
		rows, err := e.router.Execute(ctx, in.Source, in.SourceTable, in.SourceDSN, false, sql, args)
		if err != nil {
			return result, errors.Wrap(err, "sync: fetch sequence batch")
		}
		cols, batch, err := drain(rows)
		if err != nil {
			return result, errors.Wrap(err, "sync: scan sequence batch")
		}
		if len(batch) == 0 {
			break
		}

		seqIdx := columnIndex(cols, in.SequenceColumn)
		pkIdx := columnIndexes(cols, in.PKColumns)

		// A watermark query can return the same primary key more than
		// once per page (e.g. a source row updated twice within the
		// polling window, or a non-strictly-increasing sequence column
		// straddling a page boundary); keep only the last occurrence,
		// since batches are fetched in ascending sequence order.
		if allIndexed(pkIdx) {
			batch = msort.UniqueByKey(batch, pkIdx)
		}

		if !tableExists(ctx, dest, in.DestTable) {
			colTypes := sampleTypes(cols, capRows(batch, sampleSize))
			if err := createDestTable(ctx, dest, in.DestTable, cols, colTypes); err != nil {
				return result, errors.Wrap(err, "sync: create destination table")
			}
		} else if err := reconcileColumns(ctx, dest, in.DestTable, cols, sampleTypes(cols, capRows(batch, sampleSize))); err != nil {
			return result, errors.Wrap(err, "sync: reconcile destination columns")
		}

		if aborted(in.Aborted) {
			result.Aborted = true
			return result, nil
		}

		if err := upsertBatch(ctx, e.embedded.RawDB(), in.DestTable, cols, pkIdx, batch); err != nil {
			return result, errors.Wrap(err, "sync: upsert batch")
		}

		result.RowCount += int64(len(batch))
		reportProgress(in.Progress, types.PhaseInsert, result.RowCount, result.RowCount)

		if seqIdx >= 0 {
			last = maxSequenceValue(last, batch, seqIdx)
		}

		if len(batch) < in.BatchSize {
			break
		}
	}

	result.LastSequenceValue = last
	log.WithFields(log.Fields{
		"dest":  in.DestTable,
		"rows":  result.RowCount,
		"watermark": derefOrEmpty(last),
	}).Debug("sequence run complete")
	return result, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SnapshotInput is the snapshot-mode request.
type SnapshotInput struct {
	Source        types.Datasource
	SourceDSN     string
	SourceSchema  string
	SourceTable   string
	CustomQuery   string
	DestTable     string
	SelectColumns []string
	ChunkSize     int
	Progress      ProgressFunc
	Aborted       AbortFunc
}

// SnapshotResult is the snapshot-mode response.
type SnapshotResult struct {
	RowCount int64
	Aborted  bool
}

// RunSnapshot stages a full copy of the source into stg_<destTable>, then
// atomically swaps it into place.
func (e *Engine) RunSnapshot(ctx context.Context, in SnapshotInput) (SnapshotResult, error) {
	if in.ChunkSize <= 0 {
		in.ChunkSize = 5000
	}
	sourceDialect := in.Source.Kind.SQLDialect()
	dest := e.embedded.Engine()
	stagingTable := "stg_" + in.DestTable

	if err := dest.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident.QuoteIdent(dialect.EmbeddedColumnar, stagingTable), nil); err != nil {
		return SnapshotResult{}, errors.Wrap(err, "sync: drop existing staging table")
	}

	base := buildSourceBase(sourceDialect, in.SourceSchema, in.SourceTable, in.CustomQuery, in.SelectColumns)

	probeSQL := base + " WHERE 1=0"
	probeRows, err := e.router.Execute(ctx, in.Source, in.SourceTable, in.SourceDSN, false, probeSQL, nil)
	if err != nil {
		return SnapshotResult{}, errors.Wrap(err, "sync: probe source columns")
	}
	cols, err := probeRows.Columns()
	probeRows.Close()
	if err != nil {
		return SnapshotResult{}, errors.Wrap(err, "sync: read probed columns")
	}

	sampleSQL, sampleArgs := router.Paginate(sourceDialect, base, false, sampleSize, 0, sampleSize, 0)
	sampleRows, err := e.router.Execute(ctx, in.Source, in.SourceTable, in.SourceDSN, false, sampleSQL, sampleArgs)
	if err != nil {
		return SnapshotResult{}, errors.Wrap(err, "sync: sample source rows")
	}
	_, sample, err := drain(sampleRows)
	if err != nil {
		return SnapshotResult{}, errors.Wrap(err, "sync: scan sample rows")
	}

	colTypes := sampleTypes(cols, sample)
	if err := createDestTable(ctx, dest, stagingTable, cols, colTypes); err != nil {
		return SnapshotResult{}, errors.Wrap(err, "sync: create staging table")
	}

	result := SnapshotResult{}
	for offset := 0; ; offset += in.ChunkSize {
		if aborted(in.Aborted) {
			result.Aborted = true
			return result, nil
		}
		reportProgress(in.Progress, types.PhaseFetch, result.RowCount, result.RowCount)

		chunkSQL, chunkArgs := router.Paginate(sourceDialect, base, false, in.ChunkSize, offset, in.ChunkSize, 0)
		rows, err := e.router.Execute(ctx, in.Source, in.SourceTable, in.SourceDSN, false, chunkSQL, chunkArgs)
		if err != nil {
			return result, errors.Wrap(err, "sync: fetch snapshot chunk")
		}
		_, chunk, err := drain(rows)
		if err != nil {
			return result, errors.Wrap(err, "sync: scan snapshot chunk")
		}
		if len(chunk) == 0 {
			break
		}

		if aborted(in.Aborted) {
			result.Aborted = true
			return result, nil
		}
		if err := insertRows(ctx, e.embedded.RawDB(), stagingTable, cols, chunk); err != nil {
			return result, errors.Wrap(err, "sync: insert snapshot chunk")
		}

		result.RowCount += int64(len(chunk))
		reportProgress(in.Progress, types.PhaseInsert, result.RowCount, result.RowCount)

		if len(chunk) < in.ChunkSize {
			break
		}
	}

	if err := swapInto(ctx, e.embedded.RawDB(), in.DestTable, stagingTable); err != nil {
		return result, errors.Wrap(err, "sync: swap staging into destination")
	}
	log.WithFields(log.Fields{"dest": in.DestTable, "rows": result.RowCount}).Debug("snapshot run complete")
	return result, nil
}

func aborted(f AbortFunc) bool { return f != nil && f() }

func reportProgress(f ProgressFunc, phase types.SyncProgressPhase, current, total int64) {
	if f != nil {
		f(phase, current, total)
	}
}

func capRows(rows [][]any, n int) [][]any {
	if len(rows) <= n {
		return rows
	}
	return rows[:n]
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func columnIndexes(cols []string, names []string) []int {
	idx := make([]int, 0, len(names))
	for _, n := range names {
		idx = append(idx, columnIndex(cols, n))
	}
	return idx
}

// buildSourceBase renders the un-paginated SELECT against the source,
// honoring a raw CustomQuery override (wrapped so pagination can still
// apply to it uniformly).
func buildSourceBase(d dialect.Kind, schema, table string, customQuery string, selectColumns []string) string {
	if customQuery != "" {
		return "SELECT * FROM (" + customQuery + ") AS _src"
	}
	selectList := "*"
	if len(selectColumns) > 0 {
		quoted := make([]string, len(selectColumns))
		for i, c := range selectColumns {
			quoted[i] = ident.QuoteIdent(d, c)
		}
		selectList = strings.Join(quoted, ", ")
	}
	source := table
	if schema != "" {
		source = schema + "." + table
	}
	return "SELECT " + selectList + " FROM " + ident.QuoteSource(d, source)
}

// buildSequenceSelect renders the watermark-filtered, ordered, paginated
// SELECT for one sequence batch, reusing the router's pagination rewrap
// so the mssql OFFSET/FETCH handling stays in one place.
func buildSequenceSelect(d dialect.Kind, in SequenceInput, last *string) (string, []any) {
	base := buildSourceBase(d, in.SourceSchema, in.SourceTable, in.CustomQuery, in.SelectColumns)
	caps := dialect.CapabilitiesFor(d)
	seqCol := ident.QuoteIdent(d, in.SequenceColumn)

	var inner string
	var args []any
	if last != nil {
		inner = fmt.Sprintf("%s WHERE %s > %s ORDER BY %s", base, seqCol, caps.Placeholder(1), seqCol)
		args = []any{*last}
	} else {
		inner = fmt.Sprintf("%s ORDER BY %s", base, seqCol)
	}

	sql, pageArgs := router.Paginate(d, inner, true, in.BatchSize, 0, in.BatchSize, len(args))
	return sql, append(args, pageArgs...)
}

func maxSequenceValue(cur *string, batch [][]any, seqIdx int) *string {
	best := cur
	for _, row := range batch {
		if seqIdx >= len(row) {
			continue
		}
		s := toComparableString(row[seqIdx])
		// Numeric strings compare numerically; anything else compares as text.
		greater := best == nil
		if !greater {
			a, errA := strconv.ParseFloat(s, 64)
			b, errB := strconv.ParseFloat(*best, 64)
			if errA == nil && errB == nil {
				greater = a > b
			} else {
				greater = s > *best
			}
		}
		if greater {
			v := s
			best = &v
		}
	}
	return best
}

func toComparableString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// drain reads every row from rows into a column-name slice and a matrix
// of cell values, closing rows once exhausted.
func drain(rows router.Rows) ([]string, [][]any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, dest)
	}
	return cols, out, rows.Err()
}

// upsertBatch deletes any existing rows matching the batch's primary keys,
// then inserts the batch, within a single transaction against the
// embedded store's shared connection.
func upsertBatch(ctx context.Context, db *sql.DB, table string, cols []string, pkIdx []int, batch [][]any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(pkIdx) > 0 && allIndexed(pkIdx) {
		if err := deleteByPK(ctx, tx, table, cols, pkIdx, batch); err != nil {
			return err
		}
	}
	if err := insertRowsTx(ctx, tx, table, cols, batch); err != nil {
		return err
	}
	return tx.Commit()
}

func allIndexed(idx []int) bool {
	for _, i := range idx {
		if i < 0 {
			return false
		}
	}
	return true
}

func deleteByPK(ctx context.Context, tx *sql.Tx, table string, cols []string, pkIdx []int, batch [][]any) error {
	quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	conds := make([]string, len(pkIdx))
	for i, idx := range pkIdx {
		conds[i] = ident.QuoteIdent(dialect.EmbeddedColumnar, cols[idx]) + " = ?"
	}
	stmt := "DELETE FROM " + quoted + " WHERE " + strings.Join(conds, " AND ")
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer prepared.Close()

	for _, row := range batch {
		args := make([]any, len(pkIdx))
		for i, idx := range pkIdx {
			args[i] = row[idx]
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func insertRows(ctx context.Context, db *sql.DB, table string, cols []string, batch [][]any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertRowsTx(ctx, tx, table, cols, batch); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRowsTx(ctx context.Context, tx *sql.Tx, table string, cols []string, batch [][]any) error {
	quoted := ident.QuoteIdent(dialect.EmbeddedColumnar, table)
	quotedCols := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = ident.QuoteIdent(dialect.EmbeddedColumnar, c)
		placeholders[i] = "?"
	}
	stmt := "INSERT INTO " + quoted + " (" + strings.Join(quotedCols, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ")"
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer prepared.Close()

	for _, row := range batch {
		if _, err := prepared.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	return nil
}

// swapInto atomically replaces destTable with stagingTable: drop the
// destination and rename staging into its place.
func swapInto(ctx context.Context, db *sql.DB, destTable, stagingTable string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	destQ := ident.QuoteIdent(dialect.EmbeddedColumnar, destTable)
	stagingQ := ident.QuoteIdent(dialect.EmbeddedColumnar, stagingTable)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+destQ); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE "+stagingQ+" RENAME TO "+destQ); err != nil {
		return err
	}
	return tx.Commit()
}
