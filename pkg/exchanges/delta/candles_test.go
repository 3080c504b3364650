package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
)

func TestNormalizeCandlesSchemaVariants(t *testing.T) {
	ts := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	// The same logical candle in every schema the endpoint versions
	// serve. All four must normalize identically.
	variants := []map[string]interface{}{
		{"time": float64(ts.Unix()), "open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5},
		{"t": float64(ts.UnixMilli()), "o": 1.0, "h": 2.0, "l": 0.5, "c": 1.5},
		{"timestamp": float64(ts.Unix()), "open_price": "1", "high_price": "2", "low_price": "0.5", "close_price": "1.5"},
		{"start_at": ts.Format(time.RFC3339), "openPrice": 1.0, "highPrice": 2.0, "lowPrice": 0.5, "closePrice": 1.5},
	}

	want := interfaces.Candle{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	for i, row := range variants {
		got := normalizeCandles([]map[string]interface{}{row})
		require.Len(t, got, 1, "variant %d", i)
		assert.Equal(t, want, got[0], "variant %d", i)
	}
}

func TestNormalizeCandlesCanonicalNameWins(t *testing.T) {
	rows := []map[string]interface{}{
		{"time": float64(100), "open": 10.0, "o": 99.0, "high": 11.0, "low": 9.0, "close": 10.5},
	}
	got := normalizeCandles(rows)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].Open)
}

func TestNormalizeCandlesSortsAscending(t *testing.T) {
	rows := []map[string]interface{}{
		{"time": float64(300), "open": 3.0, "high": 3.0, "low": 3.0, "close": 3.0},
		{"time": float64(100), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0},
		{"time": float64(200), "open": 2.0, "high": 2.0, "low": 2.0, "close": 2.0},
	}
	got := normalizeCandles(rows)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 2.0, got[1].Close)
	assert.Equal(t, 3.0, got[2].Close)
}

func TestNormalizeCandlesDuplicateTimestampsLastWins(t *testing.T) {
	rows := []map[string]interface{}{
		{"time": float64(100), "open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0},
		{"time": float64(200), "open": 2.0, "high": 2.0, "low": 2.0, "close": 2.0},
		{"time": float64(100), "open": 9.0, "high": 9.0, "low": 9.0, "close": 9.0},
	}
	got := normalizeCandles(rows)
	require.Len(t, got, 2)
	assert.Equal(t, 9.0, got[0].Close, "later input row replaces the earlier duplicate")
	assert.Equal(t, 2.0, got[1].Close)
}

func TestNormalizeCandlesDropsPartialRows(t *testing.T) {
	rows := []map[string]interface{}{
		{"time": float64(100), "open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5},
		{"time": float64(200), "open": 1.0, "high": 2.0, "low": 0.5}, // no close
		{"time": float64(300), "open": "bad", "high": 2.0, "low": 0.5, "close": 1.5},
		{"time": "not a time", "open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5},
	}
	got := normalizeCandles(rows)
	require.Len(t, got, 1)
	assert.Equal(t, time.Unix(100, 0).UTC(), got[0].Timestamp)
}

func TestNormalizeCandlesWithoutTimestampField(t *testing.T) {
	// Rows with no timestamp-like key keep their input order through
	// synthetic index timestamps.
	rows := []map[string]interface{}{
		{"open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0},
		{"open": 2.0, "high": 2.0, "low": 2.0, "close": 2.0},
	}
	got := normalizeCandles(rows)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 2.0, got[1].Close)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
}

func TestNormalizeCandlesEmptyInput(t *testing.T) {
	assert.Empty(t, normalizeCandles(nil))
	assert.Empty(t, normalizeCandles([]map[string]interface{}{}))
}

func TestNormalizeInterval(t *testing.T) {
	tests := map[string]string{
		"15m":      "15m",
		"15min":    "15m",
		" 15M ":    "15m",
		"1h":       "1h",
		"1hr":      "1h",
		"5min":     "5m",
		"1min":     "1m",
		"1d":       "1d",
		"1day":     "1d",
		"":         "15m",
		"nonsense": "15m",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeInterval(in), "input %q", in)
	}
}
