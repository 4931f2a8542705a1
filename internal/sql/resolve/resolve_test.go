package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractReferencesQualifiedAndReserved(t *testing.T) {
	refs := ExtractReferences("s.amount + t.discount")
	assert.Equal(t, []string{"amount", "discount"}, refs)
}

func TestExtractReferencesBracketedAndQuoted(t *testing.T) {
	refs := ExtractReferences(`[OrderTotal] + "tax_rate" + ` + "`fee`")
	assert.Equal(t, []string{"OrderTotal", "tax_rate", "fee"}, refs)
}

func TestExtractReferencesSkipsFunctionsAndKeywords(t *testing.T) {
	refs := ExtractReferences("CASE WHEN amount > 0 THEN SUM(revenue) ELSE 0 END")
	assert.Equal(t, []string{"amount", "revenue"}, refs)
}

func TestExtractReferencesDedupes(t *testing.T) {
	refs := ExtractReferences("amount + amount * 2")
	assert.Equal(t, []string{"amount"}, refs)
}

func TestResolveAdmitsInDependencyOrder(t *testing.T) {
	available := map[string]bool{"amount": true, "quantity": true}
	items := []Item{
		{Alias: "total", Expr: "unit_price * quantity"},
		{Alias: "unit_price", Expr: "amount / quantity"},
	}
	admitted, warnings := Resolve(items, available)
	assert.Empty(t, warnings)
	assert.Len(t, admitted, 2)
	assert.Equal(t, "unit_price", admitted[0].Alias)
	assert.Equal(t, "total", admitted[1].Alias)
	assert.True(t, available["total"])
}

func TestResolveDropsUnresolvableAfterMaxPasses(t *testing.T) {
	available := map[string]bool{"amount": true}
	items := []Item{
		{Alias: "circular_a", Expr: "circular_b + 1"},
		{Alias: "circular_b", Expr: "circular_a + 1"},
		{Alias: "fine", Expr: "amount * 2"},
	}
	admitted, warnings := Resolve(items, available)
	assert.Len(t, admitted, 1)
	assert.Equal(t, "fine", admitted[0].Alias)
	assert.Len(t, warnings, 2)
}
