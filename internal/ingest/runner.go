package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/apperror"
	"github.com/querysync/core/internal/exec/embedded"
	"github.com/querysync/core/internal/types"
)

// sampleSize bounds how many rows are sampled for type inference, the
// same bound the sync engine's schema-evolution step uses.
const sampleSize = 64

// ProgressFunc reports a phase boundary's cumulative/total row counts,
// the same two-phase contract the sync engine uses for its own progress
// callbacks.
type ProgressFunc func(phase types.SyncProgressPhase, current, total int64)

// AbortFunc reports whether the in-flight run has been asked to cancel,
// consulted between pagination pages and before each insert.
type AbortFunc func() bool

// Runner drives one HTTP-sourced sync against the embedded store.
type Runner struct {
	embedded *embedded.Store
	client   *http.Client
}

// New constructs a Runner.
func New(store *embedded.Store) *Runner {
	return &Runner{embedded: store, client: &http.Client{Timeout: requestTimeout}}
}

// Result is the outcome of one run, using Go's error-carries-failure
// convention instead of a mixed success/error return.
type Result struct {
	RowCount    int64
	WindowStart string
	WindowEnd   string
	Aborted     bool
}

// Run executes one endpoint definition against destTable: placeholders,
// auth, sequencing window, request, pagination, parse, flatten, schema
// evolution, write, optional gap fill.
func (r *Runner) Run(ctx context.Context, cfg Config, destTable string, progress ProgressFunc, aborted AbortFunc) (Result, error) {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctxVars := buildContext(cfg.Placeholders)

	result := Result{}
	if cfg.Sequence.Enabled && (cfg.Sequence.Mode == "" || cfg.Sequence.Mode == "date-range" || cfg.Sequence.Mode == "dateRange") {
		windowStart, windowEnd, skip := r.computeWindow(ctx, cfg, destTable)
		if skip {
			return Result{}, nil
		}
		result.WindowStart = windowStart
		result.WindowEnd = windowEnd
		ctxVars["start"] = windowStart
		ctxVars["end"] = windowEnd
	}

	endpointURL := tokenReplace(cfg.Endpoint, ctxVars)
	headers := make(map[string]string, len(cfg.Headers))
	for _, h := range cfg.Headers {
		if k := strings.TrimSpace(h.Key); k != "" {
			headers[k] = tokenReplace(h.Value, ctxVars)
		}
	}
	params := make(map[string]string, len(cfg.Query))
	for _, q := range cfg.Query {
		k := strings.TrimSpace(q.Key)
		if u, err := urlUnescapeIfEncoded(k); err == nil {
			k = u
		}
		if k != "" {
			params[k] = tokenReplace(q.Value, ctxVars)
		}
	}
	applyAuth(r.client, cfg.Auth, ctxVars, headers, params)

	if result.WindowStart != "" && cfg.Sequence.StartParam != "" {
		params[cfg.Sequence.StartParam] = result.WindowStart
	}
	if result.WindowEnd != "" && cfg.Sequence.EndParam != "" {
		params[cfg.Sequence.EndParam] = result.WindowEnd
	}

	var body string
	if method != http.MethodGet && cfg.Body != "" {
		body = tokenReplace(cfg.Body, ctxVars)
	}

	log.WithFields(log.Fields{
		"method": method,
		"url":    endpointURL,
		"params": maskParams(params),
	}).Info("ingest: request prepared")

	items, err := r.fetchAll(ctx, cfg, method, endpointURL, headers, params, body, aborted)
	if err != nil {
		return result, err
	}

	flat := make([]map[string]any, 0, len(items))
	for _, it := range items {
		flat = append(flat, flattenRecord(it))
	}
	if len(flat) == 0 {
		return result, nil
	}

	sanitized := make([]map[string]any, len(flat))
	for i, rec := range flat {
		s := make(map[string]any, len(rec))
		for k, v := range rec {
			s[sanitizeCol(k)] = v
		}
		sanitized[i] = s
	}

	var sample map[string]any
	for _, rec := range sanitized {
		if len(rec) > 0 {
			sample = rec
			break
		}
	}
	if sample == nil {
		return result, nil
	}

	cols := sortedColumns(sanitized)
	sampleRows := sanitized
	if len(sampleRows) > sampleSize {
		sampleRows = sampleRows[:sampleSize]
	}
	dest := r.embedded.Engine()
	if err := ensureTableSchema(ctx, dest, destTable, cols, sampleRows); err != nil {
		return result, errors.Wrap(err, "ingest: ensure destination schema")
	}

	db := r.embedded.RawDB()
	if result.WindowStart != "" && result.WindowEnd != "" && cfg.Sequence.DateField != "" {
		if err := deleteWindow(ctx, db, destTable, cfg.Sequence.DateField, result.WindowStart, result.WindowEnd); err != nil {
			return result, err
		}
	} else if strings.ToLower(cfg.WriteMode) == "replace" || strings.ToLower(cfg.WriteMode) == "truncate_insert" {
		if err := truncateTable(ctx, db, destTable); err != nil {
			return result, err
		}
	}

	if aborted != nil && aborted() {
		result.Aborted = true
		return result, nil
	}
	reportProgress(progress, types.PhaseInsert, 0, int64(len(sanitized)))
	n, err := insertRecords(ctx, db, destTable, cols, sanitized)
	if err != nil {
		return result, err
	}
	result.RowCount = n
	reportProgress(progress, types.PhaseInsert, n, n)

	if cfg.GapFill.Enabled {
		dateField := cfg.GapFill.DateField
		if dateField == "" {
			dateField = cfg.Sequence.DateField
		}
		if dateField == "" {
			dateField = "date"
		}
		method := cfg.GapFill.Method
		if method == "" {
			method = "ffill"
		}
		if dateField != "" && cfg.GapFill.KeyFields != "" {
			if err := applyGapFill(ctx, db, destTable, dateField, cfg.GapFill.KeyFields, cfg.GapFill.Columns, method); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// computeWindow computes the sequencing window to fetch next. The bool
// return is true when there is nothing new to fetch (the window would
// start after today).
func (r *Runner) computeWindow(ctx context.Context, cfg Config, destTable string) (start, end string, skip bool) {
	dateField := cfg.Sequence.DateField
	if dateField == "" {
		dateField = "date"
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var lastDt time.Time
	if last := maxDateIngest(ctx, r.embedded.RawDB(), destTable, dateField); last != "" {
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			lastDt = t.UTC()
		} else if t, err := time.Parse("2006-01-02", last); err == nil {
			lastDt = t
		} else {
			lastDt = parseDateMacro(last)
		}
	} else {
		lastDt = today.AddDate(0, 0, -30)
	}

	winDays := cfg.Sequence.WindowDays
	if winDays < 1 {
		winDays = 7
	}
	startDt := time.Date(lastDt.Year(), lastDt.Month(), lastDt.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if startDt.After(today) {
		return "", "", true
	}
	capEnd := startDt.AddDate(0, 0, winDays-1)
	if capEnd.After(today) {
		capEnd = today
	}
	return startDt.Format("2006-01-02"), capEnd.Format("2006-01-02"), false
}

func reportProgress(f ProgressFunc, phase types.SyncProgressPhase, current, total int64) {
	if f != nil {
		f(phase, current, total)
	}
}

// urlUnescapeIfEncoded mirrors the original's "unquote query keys
// containing a literal %", for callers that pre-encoded a key.
func urlUnescapeIfEncoded(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	return url.QueryUnescape(s)
}

func httpErrorFor(status int, body string) error {
	msg := body
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return apperror.Newf(apperror.BadGateway, "http %d: %s", status, msg)
}
