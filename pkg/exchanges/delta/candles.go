package delta

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
)

// Rename maps reconciling OHLC field names across API versions, applied
// in order. Once a canonical name is present later maps never overwrite
// it.
var ohlcRenames = []map[string]string{
	{"o": "open", "h": "high", "l": "low", "c": "close"},
	{"open_price": "open", "high_price": "high", "low_price": "low", "close_price": "close"},
	{"openPrice": "open", "highPrice": "high", "lowPrice": "low", "closePrice": "close"},
}

// Timestamp field candidates in priority order.
var timestampKeys = []string{"t", "time", "timestamp", "start_at", "date", "datetime", "start_time"}

// normalizeCandles converts raw candle rows into a canonical series:
// strictly ascending UTC timestamps, finite OHLC values. Rows missing
// any OHLC value after coercion are dropped, as are rows with an
// unparseable timestamp. Duplicate timestamps collapse last-wins, in
// input order after the ascending stable sort.
//
// Empty or nil input yields an empty series, not an error.
func normalizeCandles(rows []map[string]interface{}) []interfaces.Candle {
	if len(rows) == 0 {
		return []interfaces.Candle{}
	}

	tsKey := ""
findKey:
	for _, k := range timestampKeys {
		for _, row := range rows {
			if _, present := row[k]; present {
				tsKey = k
				break findKey
			}
		}
	}

	candles := make([]interfaces.Candle, 0, len(rows))
	for i, row := range rows {
		var ts time.Time
		if tsKey != "" {
			parsed, ok := parseTimestamp(row[tsKey])
			if !ok {
				continue
			}
			ts = parsed
		} else {
			// No timestamp-like field anywhere: trust the existing row
			// order and synthesize an ordering-preserving epoch offset.
			ts = time.Unix(int64(i), 0).UTC()
		}

		c := interfaces.Candle{Timestamp: ts}
		ok := true
		for _, field := range []struct {
			name string
			dst  *float64
		}{
			{"open", &c.Open},
			{"high", &c.High},
			{"low", &c.Low},
			{"close", &c.Close},
		} {
			v, found := ohlcValue(row, field.name)
			if !found || math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			*field.dst = v
		}
		if !ok {
			continue
		}

		candles = append(candles, c)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	// Last-wins duplicate collapse: after the stable sort, the later of
	// two equal-timestamp rows is the one that appeared later in the
	// input.
	out := candles[:0]
	for i, c := range candles {
		if i+1 < len(candles) && candles[i+1].Timestamp.Equal(c.Timestamp) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ohlcValue resolves one canonical OHLC field from a raw row: the
// canonical name first, then the rename maps in order.
func ohlcValue(row map[string]interface{}, canonical string) (float64, bool) {
	if v, present := row[canonical]; present {
		return asFloat(v)
	}
	for _, cmap := range ohlcRenames {
		for alias, target := range cmap {
			if target != canonical {
				continue
			}
			if v, present := row[alias]; present {
				return asFloat(v)
			}
		}
	}
	return 0, false
}

// normalizeInterval maps timeframe aliases onto the interval tokens the
// exchange accepts. Unknown timeframes fall back to 15m, matching the
// bot's default resolution.
func normalizeInterval(timeframe string) string {
	switch strings.ToLower(strings.TrimSpace(timeframe)) {
	case "15min", "15m":
		return "15m"
	case "1h", "1hr":
		return "1h"
	case "5min", "5m":
		return "5m"
	case "1min", "1m":
		return "1m"
	case "1d", "1day":
		return "1d"
	default:
		return "15m"
	}
}
