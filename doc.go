// Package delta-feed provides a resilient market-data acquisition layer
// for options-on-perpetuals trading bots running against Delta Exchange.
//
// Public market-data endpoints change paths across API versions, rename
// payload fields and throttle aggressively. This library absorbs those
// failure modes so strategy code sees one stable surface: canonical
// product catalogs, canonical OHLC candle series and a deterministic way
// to pick the option contract to trade.
//
// Core Features:
//
//   - Resilient HTTP transport with status-aware retries, exponential
//     backoff with jitter, rate limiting and a circuit breaker
//   - Multi-version endpoint fallback: /v3, /v2 and legacy candle paths
//     are tried in order until one answers with parseable JSON
//   - Product catalog normalization across heterogeneous payload schemas
//   - Automatic selection of the nearest-expiry at-the-money option for
//     a configured root symbol
//   - OHLC candle normalization: field renames, epoch unit inference,
//     ascending sort and duplicate collapse
//   - Live candle streaming over WebSocket with automatic reconnection
//     and subscription replay
//
// The library is built around the DataFeed interface in
// pkg/exchanges/interfaces, implemented for Delta Exchange in
// pkg/exchanges/delta.
//
// # Standard Errors
//
// Failures carry typed errors so callers can distinguish transport
// problems from configuration problems:
//
//   - StatusError: a single HTTP request ended with a non-2xx status
//
//   - EndpointsError: every candidate path for one logical operation
//     failed; the error names all attempted paths
//
//   - PayloadError: a response decoded as JSON but held no recognizable
//     list payload
//
//   - SelectionError: option auto-selection could not proceed; the Kind
//     field names the filter stage that eliminated every candidate
//
//   - ConfigError: a missing or contradictory FeedOptions value for
//     which no fallback path exists
//
//   - ErrInvalidTimeRange: an invalid time range was provided (e.g. end
//     time before start time)
//
//   - ErrSpotUnavailable: no usable underlying price for at-the-money
//     selection
//
//   - ErrExchangeUnavailable: the exchange API is unavailable
//
// # Examples
//
// Basic usage:
//
//	options := interfaces.NewFeedOptions()
//	options.Underlying = "ETHUSD"
//	options.OptionRoot = "ETH"
//
//	feed := delta.NewFeed(options)
//	defer feed.Close()
//
//	sel, err := feed.PickInstrument(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	candles, err := feed.GetCandles(ctx, interfaces.CandleRequest{
//		Symbol:   sel.Value,
//		Interval: "15m",
//		Start:    time.Now().Add(-24 * time.Hour),
//		End:      time.Now(),
//	})
//
// Live streaming:
//
//	err = feed.SubscribeCandles(ctx, []string{sel.Symbol}, "1m",
//		func(symbol string, candle interfaces.Candle) {
//			log.Printf("%s close=%f", symbol, candle.Close)
//		})
package deltafeed
