package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/querysync/core/internal/apperror"
	"github.com/querysync/core/internal/cache"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/compile"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sql/ident"
	"github.com/querysync/core/internal/sql/transform"
	"github.com/querysync/core/internal/throttle"
	"github.com/querysync/core/internal/types"
)

// queryRequest is `POST /query`'s wire shape: a caller-supplied statement
// executed (almost) verbatim, the one entry point with no compile step.
type queryRequest struct {
	SQL              string `json:"sql"`
	DatasourceID     string `json:"datasourceId"`
	Limit            int    `json:"limit"`
	Offset           int    `json:"offset"`
	IncludeTotal     bool   `json:"includeTotal"`
	Params           []any  `json:"params"`
	PreferLocalDuck  bool   `json:"preferLocalDuck"`
	PreferLocalTable bool   `json:"preferLocalTable"`
}

// queryResponse is the shape shared by every query-plane endpoint.
type queryResponse struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	ElapsedMs int64    `json:"elapsedMs"`
	TotalRows *int64   `json:"totalRows,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

func toQueryResponse(res types.QueryResult) queryResponse {
	rows := make([][]any, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = types.Row(r).JSONSafe()
	}
	return queryResponse{
		Columns:   res.Columns,
		Rows:      rows,
		ElapsedMs: res.ElapsedMs,
		TotalRows: res.TotalRows,
		Warnings:  res.Warnings,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SQL == "" {
		writeError(w, apperror.New(apperror.BadRequest, "sql is required"))
		return
	}

	actor := actorFrom(r)
	ctx := r.Context()

	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}

	heavy := throttle.IsHeavy(req.Limit, req.IncludeTotal)
	release, err := s.throttleGuard(ctx, actor, heavy)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	d := dialectFor(ds)
	maxLimit := s.Router.MaxRowLimit(req.Limit, ds.Options.MaxRowsOverride)
	paginated, args := router.Paginate(d, req.SQL, true, req.Limit, req.Offset, maxLimit, len(req.Params))
	args = append(append([]any{}, req.Params...), args...)

	res, err := s.runCached(ctx, ds, dsn, req.PreferLocalTable, "", "", cache.RowsPrefix, paginated, args, req.SQL, req.Params, req.IncludeTotal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toQueryResponse(res))
}

// specRequest is `POST /query/spec`'s wire shape.
type specRequest struct {
	Spec            types.QuerySpec `json:"spec"`
	DatasourceID    string          `json:"datasourceId"`
	Limit           int             `json:"limit"`
	Offset          int             `json:"offset"`
	IncludeTotal    bool            `json:"includeTotal"`
	WidgetID        string          `json:"widgetId"`
	PreferLocalDuck bool            `json:"preferLocalDuck"`
}

func (s *Server) handleQuerySpec(w http.ResponseWriter, r *http.Request) {
	var req specRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Spec.Source == "" {
		writeError(w, apperror.New(apperror.BadRequest, "spec.source is required"))
		return
	}

	actor := actorFrom(r)
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}

	heavy := throttle.IsHeavy(req.Limit, req.IncludeTotal)
	release, err := s.throttleGuard(ctx, actor, heavy)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	d := dialectFor(ds)
	base, warnings, err := s.composeBase(ctx, ds, dsn, d, req.Spec.Source, req.WidgetID, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	sqlText, params, columns, err := compile.Aggregate(d, base, req.Spec)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.BadRequest, err, "compiling spec"))
		return
	}

	maxLimit := s.Router.MaxRowLimit(req.Limit, ds.Options.MaxRowsOverride)
	paginated, pageArgs := router.Paginate(d, sqlText, true, req.Limit, req.Offset, maxLimit, len(params))
	args := append(append([]any{}, params...), pageArgs...)

	res, err := s.runCached(ctx, ds, dsn, true, req.Spec.Source, req.WidgetID, cache.RowsPrefix, paginated, args, sqlText, params, req.IncludeTotal)
	if err != nil {
		writeError(w, err)
		return
	}
	res.Columns = columns
	res.Warnings = append(warnings, res.Warnings...)
	writeJSON(w, toQueryResponse(res))
}

// pivotRequest is `POST /query/pivot`'s wire shape.
type pivotRequest struct {
	Source       string       `json:"source"`
	Rows         []string     `json:"rows"`
	Cols         []string     `json:"cols"`
	ValueField   string       `json:"valueField"`
	Aggregator   types.Agg    `json:"aggregator"`
	Where        types.Where  `json:"where"`
	Limit        int          `json:"limit"`
	DatasourceID string       `json:"datasourceId"`
	WidgetID     string       `json:"widgetId"`
	GroupBy      types.GroupBy `json:"groupBy"`
	WeekStart    string       `json:"weekStart"`
}

func (r pivotRequest) toSpec() types.PivotRequest {
	return types.PivotRequest{
		Source: r.Source, Rows: r.Rows, Cols: r.Cols, ValueField: r.ValueField,
		Aggregator: r.Aggregator, Where: r.Where, GroupBy: r.GroupBy,
		WeekStart: r.WeekStart, Limit: r.Limit,
	}
}

// pivotPageSize is the page size used for server-side concatenation of
// unlimited pivot requests.
const pivotPageSize = 50000

func (s *Server) handlePivot(w http.ResponseWriter, r *http.Request) {
	var req pivotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Source == "" || len(req.Rows) == 0 {
		writeError(w, apperror.New(apperror.BadRequest, "source and rows are required"))
		return
	}

	actor := actorFrom(r)
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}

	heavy := req.Limit <= 0 || req.Limit >= throttle.HeavyLimitThreshold
	release, err := s.throttleGuard(ctx, actor, heavy)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	d := dialectFor(ds)
	base, warnings, err := s.composeBase(ctx, ds, dsn, d, req.Source, req.WidgetID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	sqlText, params, columns, err := compile.Pivot(d, base, req.toSpec())
	if err != nil {
		writeError(w, apperror.Wrap(apperror.BadRequest, err, "compiling pivot"))
		return
	}

	if req.Limit > 0 {
		maxLimit := s.Router.MaxRowLimit(req.Limit, ds.Options.MaxRowsOverride)
		paginated, pageArgs := router.Paginate(d, sqlText, true, req.Limit, 0, maxLimit, len(params))
		args := append(append([]any{}, params...), pageArgs...)
		res, err := s.runCached(ctx, ds, dsn, true, req.Source, req.WidgetID, "pivot", paginated, args, sqlText, params, false)
		if err != nil {
			writeError(w, err)
			return
		}
		res.Columns = columns
		res.Warnings = warnings
		writeJSON(w, toQueryResponse(res))
		return
	}

	// Unlimited: concatenate pivotPageSize-row pages server-side.
	var allRows [][]types.Cell
	offset := 0
	for {
		maxLimit := s.Router.MaxRowLimit(pivotPageSize, ds.Options.MaxRowsOverride)
		paginated, pageArgs := router.Paginate(d, sqlText, true, pivotPageSize, offset, maxLimit, len(params))
		args := append(append([]any{}, params...), pageArgs...)
		res, err := s.runCached(ctx, ds, dsn, true, req.Source, req.WidgetID, "pivot", paginated, args, sqlText, params, false)
		if err != nil {
			writeError(w, err)
			return
		}
		allRows = append(allRows, res.Rows...)
		if len(res.Rows) < pivotPageSize {
			break
		}
		offset += pivotPageSize
	}
	writeJSON(w, toQueryResponse(types.QueryResult{Columns: columns, Rows: allRows, Warnings: warnings}))
}

func (s *Server) handlePivotSQL(w http.ResponseWriter, r *http.Request) {
	var req pivotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	d := dialectFor(ds)
	base, _, err := s.composeBase(ctx, ds, dsn, d, req.Source, req.WidgetID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	sqlText, _, _, err := compile.Pivot(d, base, req.toSpec())
	if err != nil {
		writeError(w, apperror.Wrap(apperror.BadRequest, err, "compiling pivot"))
		return
	}
	writeJSON(w, map[string]string{"sql": sqlText})
}

// distinctRequestBody is `POST /query/distinct`'s wire shape.
type distinctRequestBody struct {
	Source       string      `json:"source"`
	Field        string      `json:"field"`
	Where        types.Where `json:"where"`
	DatasourceID string      `json:"datasourceId"`
}

func (s *Server) handleDistinct(w http.ResponseWriter, r *http.Request) {
	var req distinctRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Source == "" || req.Field == "" {
		writeError(w, apperror.New(apperror.BadRequest, "source and field are required"))
		return
	}

	actor := actorFrom(r)
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}
	release, err := s.throttleGuard(ctx, actor, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	d := dialectFor(ds)
	base, _, err := s.composeBase(ctx, ds, dsn, d, req.Source, "", nil)
	if err != nil {
		writeError(w, err)
		return
	}
	sqlText, params, _, err := compile.Distinct(d, base, types.DistinctRequest{Source: req.Source, Field: req.Field, Where: req.Where})
	if err != nil {
		writeError(w, apperror.Wrap(apperror.BadRequest, err, "compiling distinct"))
		return
	}

	res, err := s.runCached(ctx, ds, dsn, true, req.Source, "", "distinct", sqlText, params, sqlText, params, false)
	if err != nil {
		writeError(w, err)
		return
	}
	values := make([]any, len(res.Rows))
	for i, row := range res.Rows {
		if len(row) > 0 {
			values[i] = row[0].JSONSafe()
		}
	}
	writeJSON(w, map[string]any{"values": values})
}

// periodTotalsRequestBody is `POST /query/period-totals`'s wire shape.
type periodTotalsRequestBody struct {
	Source       string    `json:"source"`
	Y            string    `json:"y"`
	Measure      string    `json:"measure"`
	Agg          types.Agg `json:"agg"`
	DateField    string    `json:"dateField"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	PrevStart    *string   `json:"prevStart"`
	PrevEnd      *string   `json:"prevEnd"`
	Where        types.Where `json:"where"`
	Legend       string    `json:"legend"`
	DatasourceID string    `json:"datasourceId"`
	WeekStart    string    `json:"weekStart"`
}

func (r periodTotalsRequestBody) toSpec() types.PeriodTotalsRequest {
	return types.PeriodTotalsRequest{
		Source: r.Source, Y: r.Y, Measure: r.Measure, Agg: r.Agg,
		DateField: r.DateField, Start: r.Start, End: r.End,
		PrevStart: r.PrevStart, PrevEnd: r.PrevEnd, Where: r.Where,
		Legend: r.Legend, WeekStart: r.WeekStart,
	}
}

func (s *Server) handlePeriodTotals(w http.ResponseWriter, r *http.Request) {
	var req periodTotalsRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actor := actorFrom(r)
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}
	release, err := s.throttleGuard(ctx, actor, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	result, err := s.runPeriodTotals(ctx, ds, dsn, req.toSpec())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handlePeriodTotalsCompare(w http.ResponseWriter, r *http.Request) {
	var req periodTotalsRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PrevStart == nil || req.PrevEnd == nil {
		writeError(w, apperror.New(apperror.BadRequest, "prevStart and prevEnd are required"))
		return
	}
	actor := actorFrom(r)
	ctx := r.Context()
	ds, dsn, err := s.resolveDatasource(ctx, req.DatasourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Auth.Authorize(actor, ds.ID); err != nil {
		writeError(w, apperror.Wrap(apperror.Forbidden, err, "actor lacks datasource access"))
		return
	}
	release, err := s.throttleGuard(ctx, actor, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	cur, err := s.runPeriodTotals(ctx, ds, dsn, req.toSpec())
	if err != nil {
		writeError(w, err)
		return
	}
	prevSpec := req.toSpec()
	prevSpec.Start, prevSpec.End = *req.PrevStart, *req.PrevEnd
	prevSpec.PrevStart, prevSpec.PrevEnd = nil, nil
	prev, err := s.runPeriodTotals(ctx, ds, dsn, prevSpec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"cur": cur, "prev": prev})
}

// periodTotalsBatchItem is one entry of `POST /query/period-totals/batch`.
type periodTotalsBatchItem struct {
	Key string `json:"key"`
	periodTotalsRequestBody
}

func (s *Server) handlePeriodTotalsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []periodTotalsBatchItem `json:"requests"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actor := actorFrom(r)
	ctx := r.Context()

	results := make(map[string]any, len(req.Requests))
	for i, item := range req.Requests {
		key := item.Key
		if key == "" {
			key = itoa(i + 1)
		}
		ds, dsn, err := s.resolveDatasource(ctx, item.DatasourceID)
		if err != nil {
			results[key] = errorBody{Code: "Internal", Message: err.Error()}
			continue
		}
		if err := s.Auth.Authorize(actor, ds.ID); err != nil {
			results[key] = errorBody{Code: "Forbidden", Message: err.Error()}
			continue
		}
		release, err := s.throttleGuard(ctx, actor, false)
		if err != nil {
			results[key] = errorBody{Code: "RateLimited", Message: err.Error()}
			continue
		}
		res, err := s.runPeriodTotals(ctx, ds, dsn, item.toSpec())
		release()
		if err != nil {
			results[key] = errorBody{Code: "Internal", Message: err.Error()}
			continue
		}
		results[key] = res
	}
	writeJSON(w, map[string]any{"results": results})
}

// runPeriodTotals runs either the scalar-total or legend-map shape of
// compile.PeriodTotals and returns the JSON-ready {total} or {totals} body.
func (s *Server) runPeriodTotals(ctx context.Context, ds types.Datasource, dsn string, spec types.PeriodTotalsRequest) (map[string]any, error) {
	d := dialectFor(ds)
	base, _, err := s.composeBase(ctx, ds, dsn, d, spec.Source, "", nil)
	if err != nil {
		return nil, err
	}
	sqlText, params, _, err := compile.PeriodTotals(d, base, spec)
	if err != nil {
		return nil, apperror.Wrap(apperror.BadRequest, err, "compiling period totals")
	}
	shape := "scalar"
	if spec.Legend != "" {
		shape = "legend"
	}
	res, err := s.runCached(ctx, ds, dsn, true, spec.Source, shape, "periodtotals", sqlText, params, sqlText, params, false)
	if err != nil {
		return nil, err
	}
	if spec.Legend != "" {
		totals := make(map[string]any, len(res.Rows))
		for _, row := range res.Rows {
			if len(row) < 2 {
				continue
			}
			totals[fmt.Sprint(row[0].JSONSafe())] = row[1].JSONSafe()
		}
		return map[string]any{"totals": totals}, nil
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return map[string]any{"total": nil}, nil
	}
	return map[string]any{"total": res.Rows[0][0].JSONSafe()}, nil
}

// composeBase resolves and composes the transform pipeline for
// source/widgetID against ds, returning the wrapped `_base` subquery
// compile.* builds on top of.
func (s *Server) composeBase(ctx context.Context, ds types.Datasource, dsn string, d dialect.Kind, source, widgetID string, selectCols []string) (compile.Base, []string, error) {
	items := types.ForScope(ds.Options.Transforms, source, widgetID)

	var probe transform.Prober
	if engine, err := s.Router.Route(ctx, ds, source, dsn, true); err == nil {
		probe = engineProber(engine, d)
	}

	result, err := transform.Compose(ctx, transform.Request{
		Dialect:    d,
		Source:     source,
		BaseSelect: selectCols,
		Items:      items,
	}, probe)
	if err != nil {
		return compile.Base{}, nil, apperror.Wrap(apperror.Internal, err, "composing transform base")
	}
	return compile.Base{SQL: result.SQL, Columns: result.Columns}, result.Warnings, nil
}

// engineProber adapts a live router.Engine into a transform.Prober using
// the same zero-row probe shape as transform.DBProber, generalized past a
// raw *sql.DB since pooled remote engines don't expose one uniformly.
func engineProber(e router.Engine, d dialect.Kind) transform.Prober {
	return func(ctx context.Context, source string) ([]string, error) {
		quoted := ident.QuoteSource(d, source)
		stmt := "SELECT * FROM " + quoted + " WHERE 1=0"
		if d == dialect.MSSQL {
			stmt = "SELECT TOP 0 * FROM " + quoted
		}
		rows, err := e.QueryContext(ctx, stmt, nil)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return rows.Columns()
	}
}

// runCached wraps a compiled statement's execution with the result cache,
// optionally attaching an `includeTotal` count query, following a
// write-through-cache ordering. source is the table/source name
// router.Route uses to decide embedded-vs-pooled dispatch; shape is purely a
// cache.Key discriminator (e.g. a widgetID) and never reaches the router.
func (s *Server) runCached(ctx context.Context, ds types.Datasource, dsn string, embeddedAllowed bool, source, shape, prefix, statement string, args []any, innerForCount string, countParams []any, includeTotal bool) (types.QueryResult, error) {
	start := time.Now()
	key := cache.Key(prefix, ds.ID, statement, shape, args)
	if entry, ok := s.Cache.Get(ctx, key); ok {
		return types.QueryResult{Columns: entry.Columns, Rows: entry.Rows, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	rows, err := s.Router.Execute(ctx, ds, source, dsn, embeddedAllowed, statement, args)
	if err != nil {
		return types.QueryResult{}, err
	}
	columns, cells, err := drainCells(rows)
	rows.Close()
	if err != nil {
		return types.QueryResult{}, apperror.Wrap(apperror.Internal, err, "scanning result rows")
	}
	s.Cache.Set(ctx, key, cache.Entry{Columns: columns, Rows: cells})

	result := types.QueryResult{Columns: columns, Rows: cells, ElapsedMs: time.Since(start).Milliseconds()}
	if includeTotal {
		total, err := s.countRows(ctx, ds, dsn, source, innerForCount, countParams)
		if err == nil {
			result.TotalRows = &total
		}
	}
	return result, nil
}

func (s *Server) countRows(ctx context.Context, ds types.Datasource, dsn string, source, inner string, params []any) (int64, error) {
	countSQL := "SELECT COUNT(*) FROM (" + inner + ") AS _cnt"
	key := cache.Key(cache.CountPrefix, ds.ID, countSQL, "", params)
	if entry, ok := s.Cache.Get(ctx, key); ok && len(entry.Rows) == 1 {
		return entry.Rows[0][0].Int, nil
	}
	rows, err := s.Router.Execute(ctx, ds, source, dsn, true, countSQL, params)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	_, cells, err := drainCells(rows)
	if err != nil || len(cells) != 1 {
		return 0, err
	}
	s.Cache.Set(ctx, key, cache.Entry{Columns: []string{"count"}, Rows: cells})
	return cells[0][0].Int, nil
}
