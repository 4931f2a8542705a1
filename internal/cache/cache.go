// Package cache implements a short-TTL, key-value cache for compiled-query
// results, with an optional shared backend that takes precedence over a
// process-local fallback.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/querysync/core/internal/types"
)

// DefaultTTL is the cache entry lifetime used when a caller doesn't
// override it.
const DefaultTTL = 5 * time.Second

// CountPrefix namespaces `SELECT COUNT(*) FROM (inner)` entries away from
// the row-data entries they accompany.
const CountPrefix = "count"

// RowsPrefix namespaces ordinary row-data entries.
const RowsPrefix = "rows"

// Entry is the cached payload: a query's columns and rows, verbatim.
type Entry struct {
	Columns []string
	Rows    [][]types.Cell
}

// Backend is a shared, out-of-process cache implementation (e.g. Redis).
// When configured it is consulted before, and written through after, the
// process-local fallback.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

// Key builds a cache key from a namespacing prefix, the datasource, the
// compiled SQL text, the bind parameters, and an optional shape
// discriminator for entry points whose SQL text alone doesn't
// disambiguate distinct result shapes (e.g. period-totals' legend vs.
// scalar split, which can compile to near-identical SQL).
func Key(prefix, datasourceID, sql, shape string, params []any) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('|')
	b.WriteString(datasourceID)
	b.WriteByte('|')
	b.WriteString(sql)
	b.WriteByte('|')
	b.WriteString(shape)
	b.WriteByte('|')
	b.WriteString(canonicalParams(params))
	return b.String()
}

// canonicalParams renders params deterministically, in their original
// positional order — that order is significant (it's what binds each value
// to its `$n`/`?` placeholder in the accompanying SQL text), so unlike a
// named-parameter dict this must not be sorted: two calls differing only in
// param order are different queries and must not collide on one key.
func canonicalParams(params []any) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprintf("%v", p)
	}
	return strings.Join(parts, ",")
}

type localEntry struct {
	Entry
	expiresAt time.Time
}

// Cache is the process-local TTL cache plus an optional shared Backend.
type Cache struct {
	ttl    time.Duration
	shared Backend

	mu    sync.Mutex
	local map[string]localEntry

	hits   *cacheCounters
	misses *cacheCounters
}

// New constructs a Cache. A zero ttl falls back to DefaultTTL. shared may
// be nil, in which case only the process-local map is used.
func New(ttl time.Duration, shared Backend) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:    ttl,
		shared: shared,
		local:  make(map[string]localEntry),
		hits:   cacheHits,
		misses: cacheMisses,
	}
}

// Get returns a cached Entry, preferring the shared backend (if any) over
// the local map — a shared hit also refreshes the local map so subsequent
// lookups in this process avoid the round trip.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if c.shared != nil {
		if entry, ok, err := c.shared.Get(ctx, key); err == nil && ok {
			c.setLocal(key, entry)
			c.hits.inc(sourceShared)
			return entry, true
		}
	}
	c.mu.Lock()
	le, ok := c.local[key]
	if ok && time.Now().After(le.expiresAt) {
		delete(c.local, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		c.misses.inc(sourceAny)
		return Entry{}, false
	}
	c.hits.inc(sourceLocal)
	return le.Entry, true
}

// Set writes through to the shared backend first (when configured), then
// always to the process-local map.
func (c *Cache) Set(ctx context.Context, key string, entry Entry) {
	if c.shared != nil {
		_ = c.shared.Set(ctx, key, entry, c.ttl)
	}
	c.setLocal(key, entry)
}

func (c *Cache) setLocal(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = localEntry{Entry: entry, expiresAt: time.Now().Add(c.ttl)}
}
