package delta

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
)

// expiryGrace tolerates clock skew between this host and the exchange
// when deciding whether an expiry is still in the future.
const expiryGrace = time.Minute

// SelectOption picks one option product deterministically: the nearest
// future expiry first, then the strike closest to the underlying spot
// price within that expiry cohort. Ties break on catalog order.
//
// Each step is a hard filter with a distinct SelectionError kind, so an
// empty result reports which stage eliminated everything rather than a
// generic failure. For a fixed catalog, now and spot price the result is
// always the same product.
func SelectOption(
	ctx context.Context,
	catalog []interfaces.Product,
	root, underlying string,
	pref interfaces.OptionType,
	now time.Time,
	spotPrice interfaces.SpotPriceFunc,
) (interfaces.Product, error) {
	var none interfaces.Product

	// 1. Options only.
	options := make([]interfaces.Product, 0, len(catalog))
	for _, p := range catalog {
		if p.IsOption() {
			options = append(options, p)
		}
	}
	if len(options) == 0 {
		return none, interfaces.NewSelectionError(interfaces.NoOptionsListed,
			"product catalog lists no options; verify FeedOptions.ProductsPath points at an options-capable endpoint", nil)
	}

	// 2. Root match: symbol prefix "{root}-", or underlying mentioning
	// the root or the underlying ticker.
	rootUpper := strings.ToUpper(root)
	underUpper := strings.ToUpper(underlying)
	matched := options[:0:0]
	for _, p := range options {
		symUpper := strings.ToUpper(p.Symbol)
		uUpper := strings.ToUpper(p.Underlying)
		if strings.HasPrefix(symUpper, rootUpper+"-") ||
			(uUpper != "" && (strings.Contains(uUpper, rootUpper) || strings.Contains(uUpper, underUpper))) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return none, interfaces.NewSelectionError(interfaces.NoMatchingRoot,
			fmt.Sprintf("no options found for root=%s / underlying=%s; check FeedOptions.OptionRoot", root, underlying), nil)
	}

	// 3. Future expiries only, with a small grace window.
	cutoff := now.Add(-expiryGrace)
	future := matched[:0:0]
	for _, p := range matched {
		if p.HasExpiry() && !p.Expiry.Before(cutoff) {
			future = append(future, p)
		}
	}
	if len(future) == 0 {
		return none, interfaces.NewSelectionError(interfaces.NoFutureExpiry,
			"no future or active option expiries found; the chain may be stale or the root mislisted", nil)
	}

	// 4. Spot price. Selection cannot proceed without it.
	spot, err := spotPrice(ctx)
	if err != nil {
		return none, interfaces.NewSelectionError(interfaces.SpotUnavailable,
			"underlying price probe failed; set FeedOptions.PerpProductID if the candle endpoint expects product_id", err)
	}
	if spot <= 0 || math.IsNaN(spot) || math.IsInf(spot, 0) {
		return none, interfaces.NewSelectionError(interfaces.SpotUnavailable,
			fmt.Sprintf("underlying price probe returned unusable value %v", spot), interfaces.ErrSpotUnavailable)
	}

	// 5. Call/put preference.
	if pref == interfaces.OptionCall || pref == interfaces.OptionPut {
		typed := future[:0:0]
		for _, p := range future {
			if p.OptionType == pref {
				typed = append(typed, p)
			}
		}
		if len(typed) == 0 {
			return none, interfaces.NewSelectionError(interfaces.NoMatchingType,
				fmt.Sprintf("no %s options available; relax FeedOptions.OptionTypePreference", pref), nil)
		}
		future = typed
	}

	// 6. Restrict to the nearest expiry cohort.
	nearest := future[0].Expiry
	for _, p := range future[1:] {
		if p.Expiry.Before(nearest) {
			nearest = p.Expiry
		}
	}
	cohort := future[:0:0]
	for _, p := range future {
		if p.Expiry.Equal(nearest) {
			cohort = append(cohort, p)
		}
	}

	// 7. At-the-money: minimum |strike - spot|, first-encountered wins
	// ties. Missing strikes compare as infinitely far.
	best := cohort[0]
	bestDist := strikeDistance(best.Strike, spot)
	for _, p := range cohort[1:] {
		if d := strikeDistance(p.Strike, spot); d < bestDist {
			best = p
			bestDist = d
		}
	}

	return best, nil
}

func strikeDistance(strike, spot float64) float64 {
	if math.IsNaN(strike) {
		return math.Inf(1)
	}
	return math.Abs(strike - spot)
}
