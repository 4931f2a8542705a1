package where

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/types"
)

func TestParseKey(t *testing.T) {
	field, op := ParseKey("revenue__gte")
	assert.Equal(t, "revenue", field)
	assert.Equal(t, OpGte, op)

	field, op = ParseKey("status")
	assert.Equal(t, "status", field)
	assert.Equal(t, OpEq, op)

	field, op = ParseKey("weird__notanop")
	assert.Equal(t, "weird__notanop", field)
	assert.Equal(t, OpEq, op)
}

func TestSanitizeParamName(t *testing.T) {
	assert.Equal(t, "w_order_total", SanitizeParamName("order.total"))
	assert.Equal(t, "w_a_b", SanitizeParamName("a b"))
}

func TestBuildEqualityPostgres(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "status", Op: OpEq, Value: "active"}}}
	plan, err := Build(dialect.Postgres, w, nil, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "LOWER(status) = LOWER($1)", plan.Inner.SQL)
	assert.Equal(t, []any{"active"}, plan.Inner.Params)
}

func TestBuildInArrayMySQL(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "region", Op: OpEq, Value: []any{"us", "eu"}}}}
	plan, err := Build(dialect.MySQL, w, nil, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "LOWER(region) IN (LOWER(?), LOWER(?))", plan.Inner.SQL)
	assert.Equal(t, []any{"us", "eu"}, plan.Inner.Params)
}

func TestBuildIsNull(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "deleted_at", Op: OpEq, Value: nil}}}
	plan, err := Build(dialect.SQLite, w, nil, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "deleted_at IS NULL", plan.Inner.SQL)
	assert.Empty(t, plan.Inner.Params)
}

func TestBuildContainsLike(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "name", Op: OpContains, Value: "acme"}}}
	plan, err := Build(dialect.MSSQL, w, nil, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "LOWER(name) LIKE LOWER(@p1)", plan.Inner.SQL)
	assert.Equal(t, []any{"%acme%"}, plan.Inner.Params)
}

func TestBuildSplitsOnDimensionSet(t *testing.T) {
	w := types.Where{Filters: []types.Filter{
		{Field: "region", Op: OpEq, Value: "us"},
		{Field: "revenue", Op: OpGte, Value: 100},
	}}
	plan, err := Build(dialect.Postgres, w, map[string]bool{"region": true}, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "LOWER(region) = LOWER($2)", plan.Outer.SQL)
	assert.Equal(t, "revenue >= $1", plan.Inner.SQL)
}

func TestBuildDateRangeAlwaysInner(t *testing.T) {
	start, end := "2026-01-01", "2026-01-31"
	w := types.Where{Start: &start, End: &end}
	plan, err := Build(dialect.Postgres, w, map[string]bool{"created_at": true}, "created_at", nil)
	assert.NoError(t, err)
	assert.Equal(t, "created_at >= $1 AND created_at <= $2", plan.Inner.SQL)
	assert.Equal(t, []any{start, end}, plan.Inner.Params)
	assert.Empty(t, plan.Outer.SQL)
}

func TestBuildIntHintSkipsLowerAndCoercesString(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "order_month", Op: OpEq, Value: "4"}}}
	plan, err := Build(dialect.Postgres, w, nil, "", map[string]TypeHint{"order_month": HintInt})
	assert.NoError(t, err)
	assert.Equal(t, "order_month = $1", plan.Inner.SQL)
	assert.Equal(t, []any{int64(4)}, plan.Inner.Params)
}

func TestBuildNotEqualArrayIsAndOfNotEquals(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "status", Op: OpNe, Value: []any{"a", "b"}}}}
	plan, err := Build(dialect.Postgres, w, nil, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "(LOWER(status) <> LOWER($1) AND LOWER(status) <> LOWER($2))", plan.Inner.SQL)
	assert.Equal(t, []any{"a", "b"}, plan.Inner.Params)
}

func TestBuildUnknownOperator(t *testing.T) {
	w := types.Where{Filters: []types.Filter{{Field: "x", Op: "bogus", Value: 1}}}
	_, err := Build(dialect.Postgres, w, nil, "", nil)
	assert.Error(t, err)
}
