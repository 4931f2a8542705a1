package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// fetchAll runs the configured pagination strategy and returns the
// concatenated, parsed records across every page.
func (r *Runner) fetchAll(ctx context.Context, cfg Config, method, url string, headers, params map[string]string, body string, aborted AbortFunc) ([]any, error) {
	switch cfg.Pagination.Type {
	case "", PaginationNone:
		return r.fetchSingle(ctx, cfg, method, url, headers, params, body)
	case PaginationPage:
		return r.fetchPaged(ctx, cfg, method, url, headers, params, body, aborted)
	case PaginationCursor:
		return r.fetchCursor(ctx, cfg, method, url, headers, params, body, aborted)
	default:
		return r.fetchSingle(ctx, cfg, method, url, headers, params, body)
	}
}

func (r *Runner) fetchSingle(ctx context.Context, cfg Config, method, url string, headers, params map[string]string, body string) ([]any, error) {
	resp, err := doRequest(ctx, r.client, method, url, headers, params, body)
	if err != nil {
		return nil, err
	}
	if resp.status >= 400 {
		return nil, httpErrorFor(resp.status, resp.body)
	}
	return parseResponse(resp, params, &cfg), nil
}

func (r *Runner) fetchPaged(ctx context.Context, cfg Config, method, url string, headers, params map[string]string, body string, aborted AbortFunc) ([]any, error) {
	pageParam := firstNonEmpty(cfg.Pagination.PageParam, "page")
	sizeParam := firstNonEmpty(cfg.Pagination.PageSizeParam, "limit")
	pageSize := cfg.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	pageStart := cfg.Pagination.PageStart
	if pageStart <= 0 {
		pageStart = 1
	}
	maxPages := cfg.Pagination.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	var items []any
	for page := pageStart; page < pageStart+maxPages; page++ {
		if aborted != nil && aborted() {
			break
		}
		params[pageParam] = strconv.Itoa(page)
		params[sizeParam] = strconv.Itoa(pageSize)

		resp, err := doRequest(ctx, r.client, method, url, headers, params, body)
		if err != nil {
			return nil, err
		}
		if resp.status >= 400 {
			return nil, httpErrorFor(resp.status, resp.body)
		}
		part := parseResponse(resp, params, &cfg)
		if len(part) == 0 {
			break
		}
		items = append(items, part...)
		if len(part) < pageSize {
			break
		}
	}
	return items, nil
}

func (r *Runner) fetchCursor(ctx context.Context, cfg Config, method, url string, headers, params map[string]string, body string, aborted AbortFunc) ([]any, error) {
	cursorParam := firstNonEmpty(cfg.Pagination.CursorParam, "cursor")
	nextCursorPath := strings.TrimSpace(cfg.Pagination.NextCursorPath)
	maxPages := cfg.Pagination.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	curParams := make(map[string]string, len(params))
	for k, v := range params {
		curParams[k] = v
	}

	var items []any
	for i := 0; i < maxPages; i++ {
		if aborted != nil && aborted() {
			break
		}
		resp, err := doRequest(ctx, r.client, method, url, headers, curParams, body)
		if err != nil {
			return nil, err
		}
		if resp.status >= 400 {
			return nil, httpErrorFor(resp.status, resp.body)
		}

		if isCSVFormat(resp, curParams, &cfg) {
			part := parseCSV(resp.body)
			items = append(items, toAnySlice(part)...)
			break
		}

		var doc any
		_ = json.Unmarshal([]byte(resp.body), &doc)
		part := getJSONRoot(doc, cfg.JSONRoot)
		if len(part) == 0 {
			break
		}
		items = append(items, part...)
		if nextCursorPath == "" {
			break
		}

		next := walkJSONPath(doc, nextCursorPath)
		if next == nil {
			break
		}
		curParams[cursorParam] = stringifyJSON(next)
	}
	return items, nil
}

// parseResponse decides CSV vs JSON and returns the item list for one
// page's response body.
func parseResponse(resp httpResponse, params map[string]string, cfg *Config) []any {
	if isCSVFormat(resp, params, cfg) {
		return toAnySlice(parseCSV(resp.body))
	}
	return parseJSONRoot(resp.body, cfg.JSONRoot)
}

func toAnySlice(records []map[string]any) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// walkJSONPath resolves a dotted path (an optional leading "$." is
// stripped) against a decoded JSON document, for cursor extraction.
func walkJSONPath(doc any, path string) any {
	p := strings.TrimPrefix(strings.TrimSpace(path), "$.")
	cur := doc
	for _, part := range strings.Split(p, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
		if cur == nil {
			return nil
		}
	}
	return cur
}

func stringifyJSON(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
