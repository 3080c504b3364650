package interfaces

import (
	"context"
	"time"
)

// DataFeed is the market-data acquisition interface consumed by strategy
// and orchestration code. Implementations talk to an exchange's public
// HTTP API, discover which instrument to trade and return normalized
// OHLC candle series.
//
// Implementations must be safe for concurrent use: all request
// parameters derive from immutable configuration captured at
// construction, and no call mutates shared state.
type DataFeed interface {
	// GetCandles retrieves historical OHLC candle data for the requested
	// symbol or product id over [Start, End] at the given interval. The
	// returned series is strictly ascending by timestamp and owned by
	// the caller.
	GetCandles(ctx context.Context, req CandleRequest) ([]Candle, error)

	// PickInstrument resolves which option instrument to trade right
	// now. Explicit overrides in the options win; otherwise the feed
	// auto-selects the nearest-expiry at-the-money contract for the
	// configured root symbol.
	PickInstrument(ctx context.Context) (InstrumentSelection, error)

	// Products fetches and normalizes the exchange's product catalog.
	// The catalog is rebuilt on every call and never cached.
	Products(ctx context.Context) ([]Product, error)

	// SubscribeCandles streams live candle updates for the given symbols
	// over the exchange websocket. The handler is invoked from a
	// goroutine managed by the implementation.
	SubscribeCandles(ctx context.Context, symbols []string, interval string, handler CandleHandler) error

	// Close releases any open connections.
	Close() error
}

// ProductType classifies a catalog row.
type ProductType string

const (
	ProductPerpetual  ProductType = "perpetual"
	ProductCallOption ProductType = "call_option"
	ProductPutOption  ProductType = "put_option"
	ProductOther      ProductType = "other"
)

// OptionType is the call/put side of an option product.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
	OptionNone OptionType = "none"

	// OptionBoth is only valid as a selection preference, never on a
	// Product row.
	OptionBoth OptionType = "both"
)

// Product is one normalized row of the exchange's product catalog.
// ID, Symbol and Type are always set; rows where they could not be
// resolved are dropped during normalization rather than defaulted.
type Product struct {
	// ID is the exchange's numeric product id.
	ID int64

	// Symbol is the instrument symbol, e.g. "ETH-29AUG25-2500-C".
	Symbol string

	Type       ProductType
	OptionType OptionType

	// Underlying names the underlying market, e.g. "ETHUSD" or "ETH".
	// Empty when the catalog row carried no underlying field.
	Underlying string

	// Strike is the option strike price. NaN when unknown.
	Strike float64

	// Expiry is the settlement time in UTC. The zero time means no
	// expiry was present or parseable, which excludes the row from
	// option auto-selection but not from the catalog.
	Expiry time.Time
}

// IsOption reports whether the product is an option contract.
func (p Product) IsOption() bool {
	return p.Type == ProductCallOption || p.Type == ProductPutOption
}

// HasExpiry reports whether a settlement time was resolved.
func (p Product) HasExpiry() bool {
	return !p.Expiry.IsZero()
}

// Candle is one normalized OHLC row. Timestamp is UTC and unique within
// a returned series.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// CandleRequest defines parameters for a historical candle fetch.
type CandleRequest struct {
	// Symbol is either an instrument symbol or a numeric product id
	// rendered as a string, depending on which parameter shape the
	// active candle endpoint expects.
	Symbol string

	// Interval is the candle resolution, e.g. "15m" or "1h". Common
	// aliases ("15min", "1hr") are normalized by the feed.
	Interval string

	Start time.Time
	End   time.Time

	// Limit caps the number of rows requested. Zero means the feed
	// default.
	Limit int
}

// InstrumentSelection is the result of resolving which instrument to
// trade. Value holds the identifier in the shape the active candle
// endpoint expects; ProductID and Symbol carry the counterparts when
// they are known.
type InstrumentSelection struct {
	// Value is what should be passed as the candle symbol parameter.
	Value string

	// ProductID is the numeric id, 0 when unresolved.
	ProductID int64

	// Symbol is the instrument symbol, empty when unresolved.
	Symbol string
}

// CandleHandler processes live candle updates from a subscription.
type CandleHandler func(symbol string, candle Candle)

// SpotPriceFunc obtains a recent price for the underlying market. It is
// injected into the selection algorithm so tests can substitute a fixed
// price; the production implementation issues a 1-row candle probe and
// returns its close.
type SpotPriceFunc func(ctx context.Context) (float64, error)

// FeedOptions is the immutable configuration captured by a feed at
// construction. Environment parsing happens outside this library; the
// caller populates the struct however it likes.
type FeedOptions struct {
	// BaseURL is the exchange API root, e.g. "https://api.delta.exchange".
	BaseURL string

	// CandlesPath and ProductsPath are the primary endpoint paths. When
	// set, they are tried first; the built-in per-version fallbacks are
	// appended after them.
	CandlesPath  string
	ProductsPath string

	// Parameter names the candle endpoint expects. Older API versions
	// disagree on these, hence they are configurable.
	IntervalParam string
	SymbolParam   string
	StartParam    string
	EndParam      string

	// Underlying is the underlying ticker, e.g. "ETHUSD"; OptionRoot is
	// the root symbol under which options are grouped, e.g. "ETH".
	Underlying string
	OptionRoot string

	// OptionTypePreference restricts auto-selection to calls or puts.
	// OptionBoth considers either side.
	OptionTypePreference OptionType

	// Explicit overrides. When set they bypass discovery entirely.
	OptionSymbol    string
	OptionProductID string
	PerpProductID   string

	// AutoSelect enables nearest-expiry ATM discovery when no explicit
	// override is configured.
	AutoSelect bool

	// Debug swaps in the request-dumping HTTP client.
	Debug bool

	// SnapshotPath, when non-empty, is a JSON file the feed writes the
	// discovered instrument to after each auto-selection. Diagnostics
	// only; never read back.
	SnapshotPath string

	// WSURL overrides the websocket endpoint for live subscriptions.
	WSURL string

	// Transport tuning.
	ConnectTimeout       time.Duration
	ReadTimeout          time.Duration
	Attempts             uint
	MaxRequestsPerSecond int

	// LogLevel controls connector logging verbosity: "debug", "info",
	// "warn" or "error".
	LogLevel string
}

// NewFeedOptions returns defaults matching the public Delta API surface.
func NewFeedOptions() *FeedOptions {
	return &FeedOptions{
		BaseURL:              "https://api.delta.exchange",
		CandlesPath:          "/v3/public/candles",
		ProductsPath:         "/v3/public/products",
		IntervalParam:        "interval",
		SymbolParam:          "symbol",
		StartParam:           "start_time",
		EndParam:             "end_time",
		Underlying:           "ETHUSD",
		OptionRoot:           "ETH",
		OptionTypePreference: OptionBoth,
		AutoSelect:           true,
		ConnectTimeout:       5 * time.Second,
		ReadTimeout:          5 * time.Second,
		Attempts:             3,
		MaxRequestsPerSecond: 10,
		LogLevel:             "info",
	}
}
