package common

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/sony/gobreaker"

	"github.com/optimuslab/delta-feed/pkg/logging"
	"github.com/optimuslab/delta-feed/pkg/ratelimit"
)

// HTTPClient is the resilient transport used for all exchange API calls.
// It retries transient failures with exponential backoff and jitter,
// fails fast on client errors, paces requests through a rate limiter and
// trips a circuit breaker when the remote host is persistently down.
type HTTPClient interface {
	// Do executes an HTTP request with retries, rate limiting and circuit
	// breaking applied.
	Do(ctx context.Context, req *http.Request) (*http.Response, error)

	// Get issues a GET request to rawURL with the given headers and query
	// parameters. attempts overrides the configured attempt count when
	// non-zero.
	Get(ctx context.Context, rawURL string, headers map[string]string, params url.Values, attempts uint) (*http.Response, error)

	// SetRateLimit updates the rate limiter configuration.
	SetRateLimit(limit ratelimit.Rate) error
}

// RetryPolicy classifies HTTP statuses into retryable and terminal sets
// and shapes the backoff between attempts.
type RetryPolicy struct {
	// RetryOn are statuses retried with backoff.
	RetryOn []int

	// NoRetryOn are statuses that fail immediately with no further
	// attempts.
	NoRetryOn []int

	// RetryUnknown controls statuses outside both sets. True (the
	// default) treats them as retryable; false fails fast.
	RetryUnknown bool

	// BaseBackoff seeds the exponential backoff. The sleep before
	// attempt n+1 is min(MaxSleep, BaseBackoff*2^n + jitter) where
	// jitter is uniform in [0, BaseBackoff).
	BaseBackoff time.Duration

	// MaxSleep caps a single backoff sleep.
	MaxSleep time.Duration
}

// DefaultRetryPolicy returns the retry policy used against the exchange:
// retry rate limits and server errors, never retry client errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryOn:      []int{http.StatusTooManyRequests, 500, 502, 503, 504},
		NoRetryOn:    []int{400, 401, 403, 404},
		RetryUnknown: true,
		BaseBackoff:  400 * time.Millisecond,
		MaxSleep:     3 * time.Second,
	}
}

// Retryable reports whether a response status should be retried.
func (p RetryPolicy) Retryable(status int) bool {
	for _, s := range p.RetryOn {
		if s == status {
			return true
		}
	}
	for _, s := range p.NoRetryOn {
		if s == status {
			return false
		}
	}
	return p.RetryUnknown
}

// delay computes the backoff sleep before retrying attempt n (0-based).
func (p RetryPolicy) delay(n uint) time.Duration {
	sleep := p.BaseBackoff << n
	sleep += time.Duration(rand.Int63n(int64(p.BaseBackoff) + 1))
	if sleep > p.MaxSleep {
		sleep = p.MaxSleep
	}
	return sleep
}

// StatusError reports a non-2xx response from the exchange.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	// ConnectTimeout bounds connection establishment, ReadTimeout bounds
	// waiting for response headers. They apply per network call, not per
	// logical operation.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Attempts is the default number of tries per Get call.
	Attempts uint

	Retry     RetryPolicy
	RateLimit ratelimit.Rate

	// BreakerThreshold is the number of consecutive failed operations
	// before the circuit opens. Zero disables the breaker.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// Optional logger
	Logger logging.Logger
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		Attempts:       3,
		Retry:          DefaultRetryPolicy(),
		RateLimit: ratelimit.Rate{
			Limit:    10,
			Interval: time.Second,
		},
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		Logger:           logging.NewLogger(),
	}
}

// client implements the HTTPClient interface
type client struct {
	config     *ClientConfig
	httpClient *http.Client
	limiter    ratelimit.RateLimiter
	breaker    *gobreaker.CircuitBreaker
	logger     logging.Logger
}

// NewHTTPClient creates a new HTTP client with the given configuration
func NewHTTPClient(config *ClientConfig) HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	c := &client{
		config: config,
		httpClient: &http.Client{
			Transport: transport,
		},
		limiter: ratelimit.NewTokenBucketLimiter(config.RateLimit),
		logger:  config.Logger,
	}

	if config.BreakerThreshold > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "exchange-http",
			Timeout: config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.BreakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state change",
					logging.String("breaker", name),
					logging.String("from", from.String()),
					logging.String("to", to.String()),
				)
			},
		})
	}

	return c
}

// Do implements HTTPClient interface
func (c *client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.do(ctx, req, c.config.Attempts)
}

func (c *client) do(ctx context.Context, req *http.Request, attempts uint) (*http.Response, error) {
	if attempts == 0 {
		attempts = c.config.Attempts
	}

	// Wait for rate limit token
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait error: %w", err)
	}

	if c.breaker == nil {
		return c.doRetry(ctx, req, attempts)
	}

	resp, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRetry(ctx, req, attempts)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*http.Response), nil
}

// doRetry runs the attempt loop: 2xx returns immediately, statuses in the
// no-retry set abort, everything else backs off and tries again until the
// attempt budget is spent. The last underlying error is surfaced.
func (c *client) doRetry(ctx context.Context, req *http.Request, attempts uint) (*http.Response, error) {
	var resp *http.Response
	policy := c.config.Retry

	err := retry.Do(
		func() error {
			reqClone := req.Clone(ctx)

			var err error
			resp, err = c.httpClient.Do(reqClone)
			if err != nil {
				// Network and timeout failures are always retryable.
				return fmt.Errorf("http request error: %w", err)
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}

			statusErr := &StatusError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				URL:        req.URL.String(),
			}
			drain(resp)
			if !policy.Retryable(resp.StatusCode) {
				return retry.Unrecoverable(statusErr)
			}
			return statusErr
		},
		retry.Attempts(attempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return policy.delay(n)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying request",
				logging.Int("attempt", int(n)+1),
				logging.String("url", req.URL.String()),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, err)
	}

	return resp, nil
}

// Get implements HTTPClient interface
func (c *client) Get(ctx context.Context, rawURL string, headers map[string]string, params url.Values, attempts uint) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	if len(params) > 0 {
		q := req.URL.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(ctx, req, attempts)
}

// SetRateLimit implements HTTPClient interface
func (c *client) SetRateLimit(limit ratelimit.Rate) error {
	return c.limiter.SetLimit(limit)
}

// drain discards and closes a response body so the underlying connection
// can be reused by the next attempt.
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}
}
