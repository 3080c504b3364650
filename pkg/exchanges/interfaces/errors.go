package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// Common error variables returned by data feed implementations
var (
	// ErrInvalidTimeRange is returned when an invalid time range is
	// provided (e.g., end time before start time)
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrSpotUnavailable is returned when no usable underlying price
	// could be obtained for at-the-money selection
	ErrSpotUnavailable = errors.New("underlying spot price unavailable")

	// ErrExchangeUnavailable is returned when the exchange API is unavailable
	ErrExchangeUnavailable = errors.New("exchange API unavailable")
)

// PayloadError reports that a response decoded as JSON but did not
// contain a recognizable payload shape (neither a top-level list nor a
// list wrapped under a known envelope key).
type PayloadError struct {
	// Operation names the logical request, e.g. "products" or "candles".
	Operation string

	// Got describes the shape that was actually found.
	Got string
}

// Error implements the error interface
func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s response has no list payload (got %s)", e.Operation, e.Got)
}

// EndpointsError aggregates the failures of every candidate path tried
// for one logical operation.
type EndpointsError struct {
	Operation string
	Paths     []string
	Last      error
}

// Error implements the error interface
func (e *EndpointsError) Error() string {
	return fmt.Sprintf("%s: all endpoints failed (tried %s): %v",
		e.Operation, strings.Join(e.Paths, ", "), e.Last)
}

// Unwrap returns the last underlying error
func (e *EndpointsError) Unwrap() error {
	return e.Last
}

// SelectionKind identifies the filter stage at which option
// auto-selection could not proceed.
type SelectionKind string

const (
	// NoOptionsListed: the catalog contains no option products at all.
	NoOptionsListed SelectionKind = "no_options_listed"

	// NoMatchingRoot: options exist but none match the configured root
	// or underlying.
	NoMatchingRoot SelectionKind = "no_matching_root"

	// NoFutureExpiry: every matching option has already expired or
	// carries no expiry.
	NoFutureExpiry SelectionKind = "no_future_expiry"

	// SpotUnavailable: the underlying price probe failed or returned a
	// non-positive value.
	SpotUnavailable SelectionKind = "spot_unavailable"

	// NoMatchingType: the call/put preference filtered out every
	// remaining contract.
	NoMatchingType SelectionKind = "no_matching_type"
)

// SelectionError reports a failed option auto-selection. The message
// names the knob most likely to resolve the condition so operators can
// act on it without reading code.
type SelectionError struct {
	Kind    SelectionKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *SelectionError) Error() string {
	return fmt.Sprintf("option selection failed (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *SelectionError) Unwrap() error {
	return e.Err
}

// NewSelectionError creates a SelectionError for the given stage
func NewSelectionError(kind SelectionKind, message string, err error) error {
	return &SelectionError{Kind: kind, Message: message, Err: err}
}

// SelectionFailed reports whether err is a SelectionError of the given
// kind anywhere in its chain.
func SelectionFailed(err error, kind SelectionKind) bool {
	var se *SelectionError
	return errors.As(err, &se) && se.Kind == kind
}

// ConfigError reports a missing or contradictory configuration value for
// which no fallback path exists. Option names the FeedOptions field that
// would resolve it.
type ConfigError struct {
	Option  string
	Message string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s (set %s)", e.Message, e.Option)
}
