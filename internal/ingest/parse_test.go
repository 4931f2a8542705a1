package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetJSONRootNoRootPicksFirstArrayField(t *testing.T) {
	doc := map[string]any{
		"meta":    "x",
		"records": []any{map[string]any{"a": float64(1)}, map[string]any{"a": float64(2)}},
	}
	out := getJSONRoot(doc, "")
	assert.Len(t, out, 2)
}

func TestGetJSONRootArrayPassthrough(t *testing.T) {
	doc := []any{map[string]any{"a": float64(1)}}
	out := getJSONRoot(doc, "")
	assert.Len(t, out, 1)
}

func TestGetJSONRootDottedPath(t *testing.T) {
	doc := map[string]any{
		"data": map[string]any{
			"items": []any{map[string]any{"a": float64(1)}, map[string]any{"a": float64(2)}, map[string]any{"a": float64(3)}},
		},
	}
	out := getJSONRoot(doc, "$.data.items")
	assert.Len(t, out, 3)
}

func TestParseJSONRoot(t *testing.T) {
	text := `{"results": [{"id": 1}, {"id": 2}]}`
	out := parseJSONRoot(text, "results")
	assert.Len(t, out, 2)
}

func TestParseCSVBasic(t *testing.T) {
	text := "id,name\n1,Alice\n2,Bob\n"
	recs := parseCSV(text)
	assert.Len(t, recs, 2)
	assert.Equal(t, "Alice", recs[0]["name"])
	assert.Equal(t, "Bob", recs[1]["name"])
}

func TestParseCSVSkipsBOMAndComments(t *testing.T) {
	text := "﻿# a leading comment\nid,name\n1,Alice\n"
	recs := parseCSV(text)
	assert.Len(t, recs, 1)
	assert.Equal(t, "Alice", recs[0]["name"])
}

func TestParseCSVSniffsSemicolonDelimiter(t *testing.T) {
	text := "id;name\n1;Alice\n2;Bob\n"
	recs := parseCSV(text)
	assert.Len(t, recs, 2)
	assert.Equal(t, "Alice", recs[0]["name"])
}

func TestParseCSVEmptyCellsBecomeNil(t *testing.T) {
	text := "id,name\n1,\n"
	recs := parseCSV(text)
	assert.Nil(t, recs[0]["name"])
}

func TestParseCSVDedupsDuplicateHeaders(t *testing.T) {
	text := "id,id\n1,2\n"
	recs := parseCSV(text)
	_, hasFirst := recs[0]["id"]
	_, hasSecond := recs[0]["id_2"]
	assert.True(t, hasFirst)
	assert.True(t, hasSecond)
}

func TestSanitizeCol(t *testing.T) {
	assert.Equal(t, "order_id", sanitizeCol("order-id"))
	assert.Equal(t, "c_1name", sanitizeCol("1name"))
	assert.Equal(t, "col", sanitizeCol(""))
}

func TestFlattenRecordNestedObjectsJoinWithUnderscore(t *testing.T) {
	rec := map[string]any{
		"id": float64(1),
		"meta": map[string]any{
			"region": "us",
			"nested": map[string]any{"k": "v"},
		},
		"tags": []any{"a", "b"},
	}
	out := flattenRecord(rec)
	assert.Equal(t, "us", out["meta_region"])
	assert.Equal(t, "v", out["meta_nested_k"])
	assert.Equal(t, `["a","b"]`, out["tags"])
}
