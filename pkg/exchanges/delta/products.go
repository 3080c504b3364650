package delta

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
)

// defaultProductLimit is the catalog page size requested. Delta serves
// the full catalog in one page well below this.
const defaultProductLimit = 10000

// loadProducts fetches the raw product list through the fallback
// resolver and normalizes it into the canonical catalog. The catalog is
// rebuilt on every call; nothing is cached across calls.
func (f *Feed) loadProducts(ctx context.Context, limit int) ([]interfaces.Product, error) {
	if limit <= 0 {
		limit = defaultProductLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	raw, err := f.resolver.resolveJSON(ctx, "products", f.productPaths, params, f.options.Attempts)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows("products", raw, productEnvelopeKeys)
	if err != nil {
		return nil, err
	}

	catalog := normalizeProducts(rows)
	f.logger.Debug("product catalog loaded",
		logging.Int("raw_rows", len(rows)),
		logging.Int("products", len(catalog)),
	)
	return catalog, nil
}

// normalizeProducts maps heterogeneous catalog rows into canonical
// Products. Each field resolves independently; rows that fail to resolve
// id, symbol or type are dropped rather than defaulted. Option rows with
// a duplicate product id are dropped too (first occurrence wins) so the
// ids used for selection are unique.
func normalizeProducts(rows []map[string]interface{}) []interfaces.Product {
	out := make([]interfaces.Product, 0, len(rows))
	seenOption := make(map[int64]bool)

	for _, row := range rows {
		id, ok := asInt64(row["product_id"])
		if !ok {
			continue
		}
		symbol, ok := asString(row["symbol"])
		if !ok {
			continue
		}
		rawType, ok := firstString(row, "product_type", "type")
		if !ok {
			continue
		}

		p := interfaces.Product{
			ID:     id,
			Symbol: symbol,
			Strike: math.NaN(),
		}

		p.OptionType = optionTypeOf(row, rawType)
		p.Type = productTypeOf(rawType, p.OptionType)

		if s, ok := firstFloat(row, "strike_price", "strike", "strikePrice"); ok {
			p.Strike = s
		}
		if u, ok := firstString(row, "underlying", "underlying_symbol", "underlying_asset", "base_asset"); ok {
			p.Underlying = u
		}
		for _, k := range []string{"settle_time", "expiry_time", "expiration_time", "expiry", "expiry_at"} {
			if v, present := row[k]; present {
				if t, ok := parseTimestamp(v); ok {
					p.Expiry = t
				}
				break
			}
		}

		if p.IsOption() {
			if seenOption[p.ID] {
				continue
			}
			seenOption[p.ID] = true
		}

		out = append(out, p)
	}
	return out
}

// optionTypeOf resolves the call/put side: the explicit option_type
// field when present, otherwise inferred from the type string.
func optionTypeOf(row map[string]interface{}, rawType string) interfaces.OptionType {
	if explicit, ok := asString(row["option_type"]); ok {
		switch strings.ToLower(explicit) {
		case "call":
			return interfaces.OptionCall
		case "put":
			return interfaces.OptionPut
		}
	}
	lower := strings.ToLower(rawType)
	switch {
	case strings.Contains(lower, "call"):
		return interfaces.OptionCall
	case strings.Contains(lower, "put"):
		return interfaces.OptionPut
	default:
		return interfaces.OptionNone
	}
}

// productTypeOf classifies the raw type string. Option rows whose side
// could not be resolved classify as ProductOther: without a call/put
// side they cannot participate in selection anyway.
func productTypeOf(rawType string, side interfaces.OptionType) interfaces.ProductType {
	switch side {
	case interfaces.OptionCall:
		return interfaces.ProductCallOption
	case interfaces.OptionPut:
		return interfaces.ProductPutOption
	}
	if strings.Contains(strings.ToLower(rawType), "perp") {
		return interfaces.ProductPerpetual
	}
	return interfaces.ProductOther
}

// symbolForProductID resolves the symbol counterpart of a numeric id via
// a catalog lookup. Returns "" when the id is absent or the catalog
// cannot be fetched.
func (f *Feed) symbolForProductID(ctx context.Context, id int64) string {
	catalog, err := f.loadProducts(ctx, 0)
	if err != nil {
		f.logger.Warn("symbol lookup failed",
			logging.Int64("product_id", id),
			logging.Error(err),
		)
		return ""
	}
	for _, p := range catalog {
		if p.ID == id {
			return p.Symbol
		}
	}
	return ""
}
