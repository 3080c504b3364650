// Package delta implements the market-data feed for Delta-style
// exchanges: versioned public HTTP endpoints with fallback, catalog
// normalization, automatic nearest-expiry at-the-money option selection
// and canonical OHLC candle series.
package delta

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/optimuslab/delta-feed/pkg/common"
	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
	"github.com/optimuslab/delta-feed/pkg/ratelimit"
	"github.com/optimuslab/delta-feed/pkg/websocket"
)

// Underlying tickers accepted verbatim when the candle endpoint expects
// a numeric product_id; these map to the configured perpetual id. Roots
// like "ETH" are not in this set.
var perpUnderlyings = map[string]bool{
	"ETHUSD": true,
	"BTCUSD": true,
}

const defaultCandleLimit = 1000

// Feed is the Delta exchange data feed. It composes the resilient
// transport, the endpoint fallback resolver and the normalizers behind
// the DataFeed interface.
//
// A Feed holds no mutable state beyond its websocket connection; the
// HTTP operations are safe for concurrent use.
type Feed struct {
	options *interfaces.FeedOptions
	http    common.HTTPClient
	logger  logging.Logger

	resolver     *resolver
	candlePaths  []string
	productPaths []string

	// spot obtains the underlying price for ATM selection. Replaceable
	// via WithSpotPrice so tests can pin it.
	spot interfaces.SpotPriceFunc

	ws   websocket.WSConnector
	wsMu sync.Mutex

	// sentFrames are the subscribe frames sent so far, replayed after a
	// reconnect.
	sentFrames []subscribeFrame
	framesMu   sync.Mutex
}

var _ interfaces.DataFeed = (*Feed)(nil)

// Option configures a Feed beyond its FeedOptions.
type Option func(*Feed)

// WithLogger replaces the feed's logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(c common.HTTPClient) Option {
	return func(f *Feed) { f.http = c }
}

// WithSpotPrice replaces the underlying price capability used by option
// auto-selection.
func WithSpotPrice(fn interfaces.SpotPriceFunc) Option {
	return func(f *Feed) { f.spot = fn }
}

// WithWSConnector replaces the websocket connection, mainly for tests.
// The connector is expected to be connected already.
func WithWSConnector(ws websocket.WSConnector) Option {
	return func(f *Feed) { f.ws = ws }
}

// NewFeed creates a feed for the given options. Options are captured at
// construction and never mutated afterwards.
func NewFeed(options *interfaces.FeedOptions, opts ...Option) *Feed {
	if options == nil {
		options = interfaces.NewFeedOptions()
	}

	f := &Feed{
		options:      options,
		candlePaths:  candidatePaths(options.CandlesPath, candlePaths),
		productPaths: candidatePaths(options.ProductsPath, productPaths),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = newFeedLogger(options)
	}
	if f.http == nil {
		f.http = newFeedHTTPClient(options, f.logger)
	}
	f.resolver = &resolver{
		http:    f.http,
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		logger:  f.logger,
	}
	if f.spot == nil {
		f.spot = f.underlyingPrice
	}

	return f
}

func newFeedLogger(options *interfaces.FeedOptions) logging.Logger {
	logger := logging.NewLogger()
	switch strings.ToLower(options.LogLevel) {
	case "debug":
		logger.SetLevel(logging.DEBUG)
	case "warn":
		logger.SetLevel(logging.WARN)
	case "error":
		logger.SetLevel(logging.ERROR)
	default:
		logger.SetLevel(logging.INFO)
	}
	if options.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

func newFeedHTTPClient(options *interfaces.FeedOptions, logger logging.Logger) common.HTTPClient {
	cfg := common.DefaultConfig()
	cfg.Logger = logger
	if options.ConnectTimeout > 0 {
		cfg.ConnectTimeout = options.ConnectTimeout
	}
	if options.ReadTimeout > 0 {
		cfg.ReadTimeout = options.ReadTimeout
	}
	if options.Attempts > 0 {
		cfg.Attempts = options.Attempts
	}
	if options.MaxRequestsPerSecond > 0 {
		cfg.RateLimit = ratelimit.Rate{
			Limit:    options.MaxRequestsPerSecond,
			Interval: time.Second,
		}
	}

	if options.Debug {
		return common.NewDebugHTTPClient(&common.DebugClientConfig{
			ClientConfig:    cfg,
			LogResponseBody: true,
			MaxBodyLogSize:  4096,
		})
	}
	return common.NewHTTPClient(cfg)
}

// Products implements the DataFeed interface.
func (f *Feed) Products(ctx context.Context) ([]interfaces.Product, error) {
	return f.loadProducts(ctx, 0)
}

// GetCandles implements the DataFeed interface.
func (f *Feed) GetCandles(ctx context.Context, req interfaces.CandleRequest) ([]interfaces.Candle, error) {
	if err := validateTimeRange(req.Start, req.End); err != nil {
		return nil, err
	}

	value, err := f.symbolParamValue(req.Symbol)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultCandleLimit
	}

	params := url.Values{}
	params.Set(f.options.IntervalParam, normalizeInterval(req.Interval))
	params.Set(f.options.SymbolParam, value)
	params.Set("limit", strconv.Itoa(limit))
	params.Set(f.options.StartParam, formatTime(req.Start))
	params.Set(f.options.EndParam, formatTime(req.End))

	raw, err := f.resolver.resolveJSON(ctx, "candles", f.candlePaths, params, f.options.Attempts)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows("candles", raw, candleEnvelopeKeys)
	if err != nil {
		return nil, err
	}

	candles := normalizeCandles(rows)
	f.logger.Debug("candles fetched",
		logging.String("symbol", req.Symbol),
		logging.Int("raw_rows", len(rows)),
		logging.Int("candles", len(candles)),
	)
	return candles, nil
}

// GetOptionCandles fetches OHLC data for an option instrument.
func (f *Feed) GetOptionCandles(ctx context.Context, req interfaces.CandleRequest) ([]interfaces.Candle, error) {
	return f.GetCandles(ctx, req)
}

// GetPerpCandles fetches OHLC data for a perpetual contract.
func (f *Feed) GetPerpCandles(ctx context.Context, req interfaces.CandleRequest) ([]interfaces.Candle, error) {
	return f.GetCandles(ctx, req)
}

// PickInstrument implements the DataFeed interface.
//
// Priority:
//  1. Explicit overrides (OptionSymbol, then OptionProductID).
//  2. Auto-selection of the nearest-expiry ATM option when enabled.
//  3. The option root symbol as a last resort, with a warning; some
//     endpoints accept an index or root symbol directly.
//
// With auto-selection disabled and no override configured the feed
// cannot resolve an instrument and returns a ConfigError.
func (f *Feed) PickInstrument(ctx context.Context) (interfaces.InstrumentSelection, error) {
	opts := f.options

	if opts.OptionSymbol != "" {
		f.logger.Info("using configured option symbol",
			logging.String("symbol", opts.OptionSymbol))
		return interfaces.InstrumentSelection{
			Value:  opts.OptionSymbol,
			Symbol: opts.OptionSymbol,
		}, nil
	}

	if opts.OptionProductID != "" {
		id, err := strconv.ParseInt(opts.OptionProductID, 10, 64)
		if err != nil {
			return interfaces.InstrumentSelection{}, &interfaces.ConfigError{
				Option:  "FeedOptions.OptionProductID",
				Message: fmt.Sprintf("option product id %q is not numeric", opts.OptionProductID),
			}
		}
		f.logger.Info("using configured option product id",
			logging.Int64("product_id", id))
		return f.selectionForID(ctx, id, ""), nil
	}

	if !opts.AutoSelect {
		return interfaces.InstrumentSelection{}, &interfaces.ConfigError{
			Option:  "FeedOptions.AutoSelect or FeedOptions.OptionProductID",
			Message: "auto-selection is disabled and no explicit option instrument is configured",
		}
	}

	product, err := f.autoSelect(ctx)
	if err != nil {
		// Last resort: some endpoints accept the root symbol directly.
		// Check network connectivity before suspecting configuration.
		f.logger.Warn("auto-select failed, falling back to root symbol",
			logging.String("root", opts.OptionRoot),
			logging.Error(err),
		)
		return interfaces.InstrumentSelection{
			Value:  opts.OptionRoot,
			Symbol: opts.OptionRoot,
		}, nil
	}

	sel := f.selectionForProduct(product)
	if opts.SnapshotPath != "" {
		f.writeSnapshot(sel, product)
	}
	return sel, nil
}

// autoSelect runs the discovery pipeline: catalog load, then the
// deterministic option selection.
func (f *Feed) autoSelect(ctx context.Context) (interfaces.Product, error) {
	catalog, err := f.loadProducts(ctx, 0)
	if err != nil {
		return interfaces.Product{}, err
	}

	product, err := SelectOption(ctx, catalog,
		f.options.OptionRoot,
		f.options.Underlying,
		f.options.OptionTypePreference,
		time.Now().UTC(),
		f.spot,
	)
	if err != nil {
		return interfaces.Product{}, err
	}

	f.logger.Info("auto-selected option",
		logging.String("symbol", product.Symbol),
		logging.Int64("product_id", product.ID),
		logging.Time("expiry", product.Expiry),
		logging.Float64("strike", product.Strike),
	)
	return product, nil
}

// selectionForProduct shapes a selected product into the identifier the
// active candle endpoint expects.
func (f *Feed) selectionForProduct(p interfaces.Product) interfaces.InstrumentSelection {
	sel := interfaces.InstrumentSelection{
		ProductID: p.ID,
		Symbol:    p.Symbol,
	}
	if f.options.SymbolParam == "product_id" {
		sel.Value = strconv.FormatInt(p.ID, 10)
	} else {
		sel.Value = p.Symbol
	}
	return sel
}

// selectionForID shapes an explicitly configured numeric id. When the
// endpoint expects a symbol instead, a catalog lookup resolves the
// counterpart; if that lookup fails the id is returned as a best-effort
// fallback rather than failing outright.
func (f *Feed) selectionForID(ctx context.Context, id int64, symbol string) interfaces.InstrumentSelection {
	sel := interfaces.InstrumentSelection{
		ProductID: id,
		Symbol:    symbol,
		Value:     strconv.FormatInt(id, 10),
	}
	if f.options.SymbolParam == "product_id" {
		return sel
	}
	if sel.Symbol == "" {
		sel.Symbol = f.symbolForProductID(ctx, id)
	}
	if sel.Symbol != "" {
		sel.Value = sel.Symbol
	}
	return sel
}

// symbolParamValue maps a requested symbol onto the configured candle
// symbol parameter. With a product_id scheme, only numeric ids pass
// through; known underlying tickers resolve to the configured perpetual
// id and anything else requires an explicit option product id.
func (f *Feed) symbolParamValue(symbol string) (string, error) {
	if f.options.SymbolParam != "product_id" {
		return symbol, nil
	}

	if _, err := strconv.ParseInt(symbol, 10, 64); err == nil {
		return symbol, nil
	}

	if perpUnderlyings[strings.ToUpper(symbol)] {
		if f.options.PerpProductID == "" {
			return "", &interfaces.ConfigError{
				Option:  "FeedOptions.PerpProductID",
				Message: fmt.Sprintf("candle endpoint expects product_id but no perpetual id is configured for %s", symbol),
			}
		}
		return f.options.PerpProductID, nil
	}

	if f.options.OptionProductID == "" {
		return "", &interfaces.ConfigError{
			Option:  "FeedOptions.AutoSelect or FeedOptions.OptionProductID",
			Message: fmt.Sprintf("candle endpoint expects product_id for %s but no option product id is available", symbol),
		}
	}
	return f.options.OptionProductID, nil
}

// underlyingPrice is the production SpotPriceFunc: a 1-row hourly candle
// probe over the last two days, returning the latest close.
func (f *Feed) underlyingPrice(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	candles, err := f.GetCandles(ctx, interfaces.CandleRequest{
		Symbol:   f.options.Underlying,
		Interval: "1h",
		Start:    now.Add(-48 * time.Hour),
		End:      now,
		Limit:    1,
	})
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no candles returned for underlying price probe: %w", interfaces.ErrSpotUnavailable)
	}
	return candles[len(candles)-1].Close, nil
}

// Close implements the DataFeed interface.
func (f *Feed) Close() error {
	f.wsMu.Lock()
	defer f.wsMu.Unlock()
	if f.ws == nil {
		return nil
	}
	err := f.ws.Close()
	f.ws = nil
	return err
}

// validateTimeRange rejects zero or inverted time ranges before any
// network traffic happens.
func validateTimeRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("start and end times must be set: %w", interfaces.ErrInvalidTimeRange)
	}
	if end.Before(start) {
		return fmt.Errorf("end time %v before start time %v: %w", end, start, interfaces.ErrInvalidTimeRange)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
