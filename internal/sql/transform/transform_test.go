package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querysync/core/internal/sql/dialect"
	"github.com/querysync/core/internal/types"
)

func fixedProbe(cols ...string) Prober {
	return func(context.Context, string) ([]string, error) { return cols, nil }
}

func TestComposeWildcardWithComputedColumn(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "orders",
		BaseSelect: []string{"*"},
		Items: []types.TransformItem{
			{Kind: types.ItemCustomColumn, CustomColumn: &types.CustomColumn{
				Name: "total", Expr: "s.qty * s.price",
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("qty", "price"))
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, `"orders" AS s`)
	assert.Contains(t, res.SQL, `s.qty * s.price AS "total"`)
	assert.Equal(t, []string{"qty", "price", "total"}, res.Columns)
}

func TestComposeDropsUnresolvedCustomColumn(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "orders",
		BaseSelect: []string{"*"},
		Items: []types.TransformItem{
			{Kind: types.ItemCustomColumn, CustomColumn: &types.CustomColumn{
				Name: "bogus", Expr: "s.missing_column * 2",
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("qty"))
	assert.NoError(t, err)
	assert.NotContains(t, res.Columns, "bogus")
	assert.NotEmpty(t, res.Warnings)
}

func TestComposeWithoutProbeAdmitsEverything(t *testing.T) {
	req := Request{
		Dialect:    dialect.MySQL,
		Source:     "orders",
		BaseSelect: []string{"*"},
		Items: []types.TransformItem{
			{Kind: types.ItemCustomColumn, CustomColumn: &types.CustomColumn{
				Name: "anything", Expr: "s.whatever",
			}},
		},
	}
	res, err := Compose(context.Background(), req, nil)
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, "anything")
}

func TestComposePlainJoin(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "orders",
		BaseSelect: []string{"id"},
		Items: []types.TransformItem{
			{Kind: types.ItemJoin, Join: &types.Join{
				Type: types.JoinLeft, TargetTable: "customers",
				SourceKey: "customer_id", TargetKey: "id",
				Columns: []string{"name"},
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("id", "customer_id"))
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, `LEFT JOIN "customers" AS j1 ON s."customer_id" = j1."id"`)
	assert.Contains(t, res.SQL, `j1."name" AS "name"`)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
}

func TestComposeAggregateJoin(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "orders",
		BaseSelect: []string{"id"},
		Items: []types.TransformItem{
			{Kind: types.ItemJoin, Join: &types.Join{
				Type: types.JoinLeft, TargetTable: "line_items",
				SourceKey: "id", TargetKey: "order_id",
				Aggregate: &types.JoinAggregate{Fn: "sum", Column: "amount", Alias: "total_amount"},
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("id"))
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, "SUM(")
	assert.Contains(t, res.SQL, "GROUP BY")
	assert.Equal(t, []string{"id", "total_amount"}, res.Columns)
}

func TestComposeUnpivot(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "wide",
		BaseSelect: []string{"*"},
		Items: []types.TransformItem{
			{Kind: types.ItemTransform, Transform: &types.Transform{
				Kind: types.TransformUnpivot,
				Unpivot: types.UnpivotSpec{
					SourceColumns: []string{"jan", "feb"},
					KeyColumn:     "month", ValueColumn: "amount",
				},
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("jan", "feb"))
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, "UNION ALL")
	assert.Contains(t, res.SQL, `AS u`)
}

func TestComposeReplaceTransformOverridesProjection(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "orders",
		BaseSelect: []string{"status"},
		Items: []types.TransformItem{
			{Kind: types.ItemTransform, Transform: &types.Transform{
				Kind: types.TransformReplace, Target: "status",
				Search: []string{"shipped"}, Replace: []string{"fulfilled"},
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("status"))
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, "REPLACE(s.\"status\"")
}

func TestComposeLimitTopNDefault(t *testing.T) {
	req := Request{
		Dialect:    dialect.Postgres,
		Source:     "orders",
		BaseSelect: []string{"id", "revenue"},
		Items: []types.TransformItem{
			{Kind: types.ItemDefaults, Defaults: &types.Defaults{
				LimitTopN: &types.LimitTopNDefault{N: 10, By: 2, Direction: "desc"},
			}},
		},
	}
	res, err := Compose(context.Background(), req, fixedProbe("id", "revenue"))
	assert.NoError(t, err)
	assert.Contains(t, res.SQL, "ORDER BY 2 DESC LIMIT 10")
}
