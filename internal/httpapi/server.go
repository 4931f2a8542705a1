// Package httpapi is a thin transport adapter: it maps the RPC-shaped
// query and sync operations onto net/http handlers, but owns none of the
// framing concerns (real auth, TLS termination, routing conventions)
// those remain external collaborators. cmd/querysyncd hosts it only to
// prove the wiring compiles and runs end to end.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/querysync/core/internal/apperror"
	"github.com/querysync/core/internal/cache"
	"github.com/querysync/core/internal/exec/enginepool"
	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/sync/coordinator"
	"github.com/querysync/core/internal/throttle"
	"github.com/querysync/core/internal/types"
)

// Server bundles the wired metadata store, router, pool, cache, gate, and
// sync coordinator behind the HTTP operation set.
type Server struct {
	Meta     types.MetadataStore
	Router   *router.Router
	Pool     *enginepool.Pool
	Cache    *cache.Cache
	Gate     *throttle.Gate
	Coord    *coordinator.Coordinator
	Resolver DSNResolver
	Auth     Authenticator
}

// Handler builds the net/http.Handler exposing every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /query", s.withActor(s.handleQuery))
	mux.HandleFunc("POST /query/spec", s.withActor(s.handleQuerySpec))
	mux.HandleFunc("POST /query/pivot", s.withActor(s.handlePivot))
	mux.HandleFunc("POST /query/pivot/sql", s.withActor(s.handlePivotSQL))
	mux.HandleFunc("POST /query/distinct", s.withActor(s.handleDistinct))
	mux.HandleFunc("POST /query/period-totals", s.withActor(s.handlePeriodTotals))
	mux.HandleFunc("POST /query/period-totals/compare", s.withActor(s.handlePeriodTotalsCompare))
	mux.HandleFunc("POST /query/period-totals/batch", s.withActor(s.handlePeriodTotalsBatch))

	mux.HandleFunc("POST /datasources/{id}/sync/run", s.withActor(s.handleSyncRun))
	mux.HandleFunc("POST /datasources/{id}/sync/abort", s.withActor(s.handleSyncAbort))
	mux.HandleFunc("POST /datasources/{id}/sync/reset-stuck", s.withActor(s.handleResetStuck))
	mux.HandleFunc("GET /datasources/{id}/sync/status", s.withActor(s.handleSyncStatus))
	mux.HandleFunc("GET /datasources/{id}/sync/logs", s.withActor(s.handleSyncLogs))
	mux.HandleFunc("POST /datasources/{id}/sync-tasks/{taskId}/flush", s.withActor(s.handleSyncFlush))

	mux.HandleFunc("POST /datasources/{id}/engine/dispose", s.withActor(s.handleEngineDispose))
	mux.HandleFunc("POST /datasources/engines/dispose-all", s.withActor(s.handleEnginesDisposeAll))

	return mux
}

// actorKey is the context key withActor stashes the resolved Actor under.
type actorKey struct{}

// withActor runs Authenticate before delegating to next, writing a 401
// error body on failure, following the {code, message} error shape.
func (s *Server) withActor(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.Auth.Authenticate(r)
		if err != nil {
			writeError(w, apperror.Wrap(apperror.Unauthorized, err, "authentication failed"))
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next(w, r.WithContext(ctx))
	}
}

func actorFrom(r *http.Request) types.Actor {
	if a, ok := r.Context().Value(actorKey{}).(types.Actor); ok {
		return a
	}
	return types.Actor{}
}

// errorBody is the wire shape for a failed RPC.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Wrap(apperror.Internal, err, "unclassified error")
	}
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", itoa(appErr.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	_ = json.NewEncoder(w).Encode(errorBody{Code: string(appErr.Kind), Message: appErr.Message})
	log.WithField("kind", appErr.Kind).WithField("message", appErr.Message).Debug("httpapi: request failed")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperror.Wrap(apperror.BadRequest, err, "malformed request body")
	}
	return nil
}

func itoa(n int) string {
	if n <= 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// resolveDatasource loads the datasource named by id, or — when id is
// empty (the optional `datasourceId?` case) — returns a synthetic
// embedded-columnar descriptor so callers can query the embedded store
// with no datasource of their own registered.
func (s *Server) resolveDatasource(ctx context.Context, id string) (types.Datasource, string, error) {
	if id == "" {
		return types.Datasource{Kind: types.KindEmbeddedColumnar, Active: true}, "", nil
	}
	ds, err := s.Meta.GetDatasource(ctx, id)
	if err != nil {
		return types.Datasource{}, "", apperror.Wrap(apperror.Internal, err, "loading datasource")
	}
	if ds == nil {
		return types.Datasource{}, "", apperror.Newf(apperror.NotFound, "datasource %q not found", id)
	}
	if ds.Kind == types.KindEmbeddedColumnar {
		return *ds, "", nil
	}
	dsn, err := s.Resolver.Resolve(*ds)
	if err != nil {
		return types.Datasource{}, "", apperror.Wrap(apperror.Internal, err, "resolving datasource connection")
	}
	return *ds, dsn, nil
}

// throttleGuard runs the rate/concurrency gate for actor/heavy-ness before
// a query is allowed to proceed.
func (s *Server) throttleGuard(ctx context.Context, actor types.Actor, heavy bool) (release func(), err error) {
	ok, retryAfter, err := s.Gate.Allow(ctx, actor.ID)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, err, "rate limiter error")
	}
	if !ok {
		return nil, apperror.RateLimitedf(int(retryAfter/time.Second)+1, "rate limit exceeded for actor %q", actor.ID)
	}
	if !heavy {
		return func() {}, nil
	}
	release, err = s.Gate.AcquireHeavy(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, err, "acquiring heavy query slot")
	}
	return release, nil
}

func dialectFor(ds types.Datasource) dialect.Kind {
	if ds.Kind == types.KindHTTPAPI {
		return dialect.EmbeddedColumnar
	}
	return ds.Kind.SQLDialect()
}
