package delta

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
)

// Envelope keys under which the exchange wraps list payloads, by API
// version. Shared by the catalog and candle normalizers.
var (
	productEnvelopeKeys = []string{"result", "data", "products"}
	candleEnvelopeKeys  = []string{"result", "data", "candles", "items"}
)

// decodeRows extracts the row list from a raw JSON body. The body may be
// a top-level array or an object wrapping the array under one of the
// known keys; the first matching key whose value is an array wins.
// A JSON null decodes to an empty row list, not an error.
func decodeRows(op string, raw json.RawMessage, keys []string) ([]map[string]interface{}, error) {
	var top interface{}
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", op, err)
	}

	var list []interface{}
	switch v := top.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		list = v
	case map[string]interface{}:
		for _, k := range keys {
			if inner, ok := v[k].([]interface{}); ok {
				list = inner
				break
			}
		}
		if list == nil {
			return nil, &interfaces.PayloadError{
				Operation: op,
				Got:       fmt.Sprintf("object with keys %s", objectKeys(v)),
			}
		}
	default:
		return nil, &interfaces.PayloadError{
			Operation: op,
			Got:       fmt.Sprintf("%T", top),
		}
	}

	rows := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func objectKeys(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return strings.Join(keys, ",")
}

// asFloat coerces a JSON value to a float64. Exchanges serve numbers both
// as JSON numbers and as strings, depending on endpoint version.
func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asInt64 coerces a JSON value to an int64, truncating fractional parts.
func asInt64(v interface{}) (int64, bool) {
	f, ok := asFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// asString coerces a JSON value to a non-empty string.
func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// firstString returns the first non-empty string among the named fields.
func firstString(row map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := asString(row[k]); ok {
			return s, true
		}
	}
	return "", false
}

// firstFloat returns the first numeric-coercible value among the named
// fields.
func firstFloat(row map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, present := row[k]; present {
			if f, ok := asFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// epochToTime converts a numeric epoch timestamp to UTC, inferring the
// unit: values above 1e12 are milliseconds, everything else seconds.
func epochToTime(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

// timestampLayouts accepted for string timestamps, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp converts a JSON value to a UTC instant. Numeric values
// are epoch timestamps with unit inference; strings are parsed as
// ISO-8601 variants. Numeric strings fall through to epoch handling.
func parseTimestamp(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case float64:
		return epochToTime(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochToTime(f), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f), true
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
