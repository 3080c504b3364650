package delta

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
)

var selNow = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func fixedSpot(price float64) interfaces.SpotPriceFunc {
	return func(context.Context) (float64, error) { return price, nil }
}

func failingSpot(err error) interfaces.SpotPriceFunc {
	return func(context.Context) (float64, error) { return 0, err }
}

func option(id int64, symbol string, side interfaces.OptionType, strike float64, expiry time.Time) interfaces.Product {
	p := interfaces.Product{
		ID:         id,
		Symbol:     symbol,
		OptionType: side,
		Underlying: "ETHUSD",
		Strike:     strike,
		Expiry:     expiry,
	}
	if side == interfaces.OptionPut {
		p.Type = interfaces.ProductPutOption
	} else {
		p.Type = interfaces.ProductCallOption
	}
	return p
}

func TestSelectOptionNearestExpiryThenATM(t *testing.T) {
	catalog := []interfaces.Product{
		{ID: 27, Symbol: "ETHUSD", Type: interfaces.ProductPerpetual},
		option(1, "C-ETH-2000-041025", interfaces.OptionCall, 2000, selNow.Add(3*24*time.Hour)),
		option(2, "C-ETH-2400-041025", interfaces.OptionCall, 2400, selNow.Add(3*24*time.Hour)),
		option(3, "C-ETH-2200-111025", interfaces.OptionCall, 2200, selNow.Add(10*24*time.Hour)),
	}

	got, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionBoth, selNow, fixedSpot(2050))
	require.NoError(t, err)

	// The 10-day 2200 strike is closer to spot, but expiry wins first:
	// within the 3-day cohort, 2000 is the ATM strike.
	assert.Equal(t, int64(1), got.ID)
}

func TestSelectOptionDeterministic(t *testing.T) {
	catalog := []interfaces.Product{
		option(1, "C-ETH-2000-041025", interfaces.OptionCall, 2000, selNow.Add(72*time.Hour)),
		option(2, "P-ETH-2100-041025", interfaces.OptionPut, 2100, selNow.Add(72*time.Hour)),
		option(3, "C-ETH-2400-041025", interfaces.OptionCall, 2400, selNow.Add(72*time.Hour)),
	}

	first, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionBoth, selNow, fixedSpot(2050))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
			interfaces.OptionBoth, selNow, fixedSpot(2050))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestSelectOptionEqualDistanceTieBreaksOnCatalogOrder(t *testing.T) {
	// 2000 and 2100 are both 50 away from spot 2050.
	catalog := []interfaces.Product{
		option(1, "C-ETH-2000-041025", interfaces.OptionCall, 2000, selNow.Add(72*time.Hour)),
		option(2, "C-ETH-2100-041025", interfaces.OptionCall, 2100, selNow.Add(72*time.Hour)),
	}

	got, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionBoth, selNow, fixedSpot(2050))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
}

func TestSelectOptionExpiryGrace(t *testing.T) {
	catalog := []interfaces.Product{
		// 30 seconds past expiry: still inside the grace window.
		option(1, "C-ETH-2000-011025", interfaces.OptionCall, 2000, selNow.Add(-30*time.Second)),
	}

	got, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionBoth, selNow, fixedSpot(2050))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
}

func TestSelectOptionTypePreference(t *testing.T) {
	catalog := []interfaces.Product{
		option(1, "C-ETH-2000-041025", interfaces.OptionCall, 2000, selNow.Add(72*time.Hour)),
		option(2, "P-ETH-2050-041025", interfaces.OptionPut, 2050, selNow.Add(72*time.Hour)),
	}

	got, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionPut, selNow, fixedSpot(2050))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)

	_, err = SelectOption(context.Background(), catalog[:1], "ETH", "ETHUSD",
		interfaces.OptionPut, selNow, fixedSpot(2050))
	assert.True(t, interfaces.SelectionFailed(err, interfaces.NoMatchingType))
}

func TestSelectOptionMissingStrikeIsInfinitelyFar(t *testing.T) {
	catalog := []interfaces.Product{
		option(1, "C-ETH-XXX-041025", interfaces.OptionCall, math.NaN(), selNow.Add(72*time.Hour)),
		option(2, "C-ETH-9000-041025", interfaces.OptionCall, 9000, selNow.Add(72*time.Hour)),
	}

	got, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionBoth, selNow, fixedSpot(2050))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID, "any real strike beats a missing one")
}

func TestSelectOptionRootMatching(t *testing.T) {
	catalog := []interfaces.Product{
		option(1, "C-BTC-60000-041025", interfaces.OptionCall, 60000, selNow.Add(72*time.Hour)),
		option(2, "MARK:C-ETH-2000", interfaces.OptionCall, 2000, selNow.Add(72*time.Hour)),
	}
	// Symbol prefix fails for both, but product 2 still matches via its
	// ETHUSD underlying.
	catalog[0].Underlying = "BTCUSD"

	got, err := SelectOption(context.Background(), catalog, "ETH", "ETHUSD",
		interfaces.OptionBoth, selNow, fixedSpot(2050))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestSelectOptionFilterStageErrors(t *testing.T) {
	spot := fixedSpot(2050)
	ctx := context.Background()

	t.Run("no options listed", func(t *testing.T) {
		catalog := []interfaces.Product{{ID: 27, Symbol: "ETHUSD", Type: interfaces.ProductPerpetual}}
		_, err := SelectOption(ctx, catalog, "ETH", "ETHUSD", interfaces.OptionBoth, selNow, spot)
		assert.True(t, interfaces.SelectionFailed(err, interfaces.NoOptionsListed))
		assert.Contains(t, err.Error(), "ProductsPath")
	})

	t.Run("no matching root", func(t *testing.T) {
		catalog := []interfaces.Product{
			option(1, "C-BTC-60000-041025", interfaces.OptionCall, 60000, selNow.Add(72*time.Hour)),
		}
		catalog[0].Underlying = "BTCUSD"
		_, err := SelectOption(ctx, catalog, "ETH", "ETHUSD", interfaces.OptionBoth, selNow, spot)
		assert.True(t, interfaces.SelectionFailed(err, interfaces.NoMatchingRoot))
	})

	t.Run("no future expiry", func(t *testing.T) {
		catalog := []interfaces.Product{
			option(1, "C-ETH-2000-010925", interfaces.OptionCall, 2000, selNow.Add(-24*time.Hour)),
			option(2, "C-ETH-2000-NOEXP", interfaces.OptionCall, 2000, time.Time{}),
		}
		_, err := SelectOption(ctx, catalog, "ETH", "ETHUSD", interfaces.OptionBoth, selNow, spot)
		assert.True(t, interfaces.SelectionFailed(err, interfaces.NoFutureExpiry))
	})

	t.Run("spot probe error", func(t *testing.T) {
		catalog := []interfaces.Product{
			option(1, "C-ETH-2000-041025", interfaces.OptionCall, 2000, selNow.Add(72*time.Hour)),
		}
		probeErr := errors.New("probe down")
		_, err := SelectOption(ctx, catalog, "ETH", "ETHUSD", interfaces.OptionBoth, selNow, failingSpot(probeErr))
		assert.True(t, interfaces.SelectionFailed(err, interfaces.SpotUnavailable))
		assert.ErrorIs(t, err, probeErr)
	})

	t.Run("unusable spot value", func(t *testing.T) {
		catalog := []interfaces.Product{
			option(1, "C-ETH-2000-041025", interfaces.OptionCall, 2000, selNow.Add(72*time.Hour)),
		}
		for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
			_, err := SelectOption(ctx, catalog, "ETH", "ETHUSD", interfaces.OptionBoth, selNow, fixedSpot(bad))
			assert.True(t, interfaces.SelectionFailed(err, interfaces.SpotUnavailable), "spot %v", bad)
			assert.ErrorIs(t, err, interfaces.ErrSpotUnavailable, "spot %v", bad)
		}
	})

	t.Run("spot probe not called before expiry filter passes", func(t *testing.T) {
		catalog := []interfaces.Product{
			option(1, "C-ETH-2000-010925", interfaces.OptionCall, 2000, selNow.Add(-24*time.Hour)),
		}
		called := false
		spy := func(context.Context) (float64, error) {
			called = true
			return 2050, nil
		}
		_, err := SelectOption(ctx, catalog, "ETH", "ETHUSD", interfaces.OptionBoth, selNow, spy)
		assert.True(t, interfaces.SelectionFailed(err, interfaces.NoFutureExpiry))
		assert.False(t, called, "expired chains must not trigger a price probe")
	})
}
