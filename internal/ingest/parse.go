package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// getJSONRoot extracts the list of records to iterate from a decoded JSON
// document: no root selects the document itself if it's an array, the
// first array-valued field if it's an object, else the object wrapped in
// a one-element list; a root path walks dotted object keys (a leading
// "$." is stripped) until it finds an array (returned as-is) or a scalar
// (wrapped).
func getJSONRoot(doc any, root string) []any {
	if root == "" {
		switch v := doc.(type) {
		case []any:
			return v
		case map[string]any:
			for _, val := range v {
				if arr, ok := val.([]any); ok {
					return arr
				}
			}
			return []any{v}
		default:
			return nil
		}
	}

	path := strings.TrimSpace(root)
	path = strings.TrimPrefix(path, "$.")
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
		if cur == nil {
			return nil
		}
	}
	if arr, ok := cur.([]any); ok {
		return arr
	}
	return []any{cur}
}

// parseJSONRoot decodes text and applies getJSONRoot.
func parseJSONRoot(text, root string) []any {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}
	return getJSONRoot(doc, root)
}

// parseCSV parses CSV text into a list of string-keyed records: BOM
// stripped, comment/blank preamble lines ('#', '//') skipped,
// delimiter sniffed among comma/semicolon/tab/pipe (encoding/csv has no
// sniffer; this approximates csv.Sniffer by picking whichever of those
// four candidates occurs most often in the header line), empty header
// cells synthesized as col1..colN, duplicate
// headers deduplicated with a numeric suffix, empty string cells become
// nil.
func parseCSV(text string) []map[string]any {
	raw := strings.TrimPrefix(text, "﻿")

	var useful []string
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "//") {
			continue
		}
		useful = append(useful, line)
	}
	if len(useful) == 0 {
		return nil
	}

	delim := sniffDelimiter(useful)
	r := csv.NewReader(strings.NewReader(strings.Join(useful, "\n")))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil
	}

	norm := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("col%d", i+1)
		}
		base := name
		if n, ok := seen[base]; ok {
			seen[base] = n + 1
			name = fmt.Sprintf("%s_%d", base, n+1)
		} else {
			seen[base] = 1
		}
		norm[i] = name
	}

	var out []map[string]any
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		obj := make(map[string]any, len(norm))
		for i, name := range norm {
			var val any
			if i < len(row) && row[i] != "" {
				val = row[i]
			}
			obj[name] = val
		}
		out = append(out, obj)
	}
	return out
}

// sniffDelimiter picks comma, semicolon, tab, or pipe, whichever splits the
// header line into the most fields (ties favor comma), standing in for
// Python's csv.Sniffer without pulling in a dependency nowhere else in
// the corpus uses.
func sniffDelimiter(lines []string) rune {
	if len(lines) == 0 {
		return ','
	}
	candidates := []rune{',', ';', '\t', '|'}
	best := ','
	bestCount := -1
	for _, c := range candidates {
		count := strings.Count(lines[0], string(c))
		if count > bestCount {
			bestCount = count
			best = c
		}
	}
	return best
}
