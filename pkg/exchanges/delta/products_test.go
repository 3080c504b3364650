package delta

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
)

func TestNormalizeProductsFieldVariants(t *testing.T) {
	rows := []map[string]interface{}{
		{
			// v3 shape: numeric id, explicit option_type, settle_time.
			"product_id":   float64(101),
			"symbol":       "C-ETH-2400-041025",
			"product_type": "call_options",
			"option_type":  "call",
			"strike_price": "2400",
			"underlying":   "ETHUSD",
			"settle_time":  "2025-10-04T08:00:00Z",
		},
		{
			// v2 shape: "type" instead of "product_type", epoch expiry,
			// camelCase strike.
			"product_id":  "102",
			"symbol":      "P-ETH-2200-041025",
			"type":        "put_options",
			"strikePrice": float64(2200),
			"underlying":  "ETHUSD",
			"expiry_time": float64(1759564800),
		},
		{
			"product_id":   float64(27),
			"symbol":       "ETHUSD",
			"product_type": "perpetual_futures",
			"underlying":   "ETH",
		},
	}

	catalog := normalizeProducts(rows)
	require.Len(t, catalog, 3)

	call := catalog[0]
	assert.Equal(t, int64(101), call.ID)
	assert.Equal(t, interfaces.ProductCallOption, call.Type)
	assert.Equal(t, interfaces.OptionCall, call.OptionType)
	assert.Equal(t, 2400.0, call.Strike)
	assert.Equal(t, time.Date(2025, 10, 4, 8, 0, 0, 0, time.UTC), call.Expiry)
	assert.True(t, call.IsOption())

	put := catalog[1]
	assert.Equal(t, int64(102), put.ID)
	assert.Equal(t, interfaces.ProductPutOption, put.Type)
	assert.Equal(t, 2200.0, put.Strike)
	assert.True(t, put.HasExpiry())

	perp := catalog[2]
	assert.Equal(t, interfaces.ProductPerpetual, perp.Type)
	assert.Equal(t, interfaces.OptionNone, perp.OptionType)
	assert.False(t, perp.IsOption())
	assert.True(t, math.IsNaN(perp.Strike), "missing strike stays NaN")
	assert.False(t, perp.HasExpiry())
}

func TestNormalizeProductsDropRules(t *testing.T) {
	rows := []map[string]interface{}{
		{"symbol": "NO-ID", "product_type": "call_options"},
		{"product_id": float64(1), "product_type": "call_options"},
		{"product_id": float64(2), "symbol": "NO-TYPE"},
		{"product_id": "abc", "symbol": "BAD-ID", "product_type": "call_options"},
		{"product_id": float64(3), "symbol": "OK", "product_type": "call_options"},
	}

	catalog := normalizeProducts(rows)
	require.Len(t, catalog, 1)
	assert.Equal(t, "OK", catalog[0].Symbol)
}

func TestNormalizeProductsDuplicateOptionIDs(t *testing.T) {
	rows := []map[string]interface{}{
		{"product_id": float64(7), "symbol": "FIRST", "product_type": "call_options"},
		{"product_id": float64(7), "symbol": "SECOND", "product_type": "call_options"},
		// Non-option duplicates are kept; uniqueness only matters for
		// ids that can be selected.
		{"product_id": float64(9), "symbol": "SPOT-A", "product_type": "spot"},
		{"product_id": float64(9), "symbol": "SPOT-B", "product_type": "spot"},
	}

	catalog := normalizeProducts(rows)
	require.Len(t, catalog, 3)
	assert.Equal(t, "FIRST", catalog[0].Symbol, "first option occurrence wins")
}

func TestNormalizeProductsExpiryKeyPriority(t *testing.T) {
	// The first present expiry key is authoritative even when it fails
	// to parse; later keys are not consulted.
	rows := []map[string]interface{}{
		{
			"product_id":   float64(1),
			"symbol":       "A",
			"product_type": "call_options",
			"settle_time":  "garbage",
			"expiry_time":  "2025-10-04T08:00:00Z",
		},
		{
			"product_id":   float64(2),
			"symbol":       "B",
			"product_type": "call_options",
			"expiry_at":    "2025-10-04T08:00:00Z",
		},
	}

	catalog := normalizeProducts(rows)
	require.Len(t, catalog, 2)
	assert.False(t, catalog[0].HasExpiry())
	assert.True(t, catalog[1].HasExpiry())
}

func TestNormalizeProductsIdempotent(t *testing.T) {
	rows := []map[string]interface{}{
		{"product_id": float64(1), "symbol": "A", "product_type": "call_options", "strike_price": "2400"},
		{"product_id": float64(2), "symbol": "B", "product_type": "perpetual_futures"},
	}
	first := normalizeProducts(rows)
	second := normalizeProducts(rows)
	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Symbol, second[i].Symbol)
		assert.Equal(t, first[i].Type, second[i].Type)
	}
}

func TestOptionTypeClassification(t *testing.T) {
	tests := []struct {
		row      map[string]interface{}
		rawType  string
		wantSide interfaces.OptionType
		wantType interfaces.ProductType
	}{
		{map[string]interface{}{"option_type": "call"}, "options", interfaces.OptionCall, interfaces.ProductCallOption},
		{map[string]interface{}{"option_type": "put"}, "options", interfaces.OptionPut, interfaces.ProductPutOption},
		{map[string]interface{}{}, "call_options", interfaces.OptionCall, interfaces.ProductCallOption},
		{map[string]interface{}{}, "put_options", interfaces.OptionPut, interfaces.ProductPutOption},
		// Side-less option rows cannot participate in selection.
		{map[string]interface{}{}, "options", interfaces.OptionNone, interfaces.ProductOther},
		{map[string]interface{}{}, "perpetual_futures", interfaces.OptionNone, interfaces.ProductPerpetual},
		{map[string]interface{}{}, "spot", interfaces.OptionNone, interfaces.ProductOther},
	}
	for _, tt := range tests {
		side := optionTypeOf(tt.row, tt.rawType)
		assert.Equal(t, tt.wantSide, side, "rawType %q", tt.rawType)
		assert.Equal(t, tt.wantType, productTypeOf(tt.rawType, side), "rawType %q", tt.rawType)
	}
}
