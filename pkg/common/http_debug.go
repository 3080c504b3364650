package common

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/optimuslab/delta-feed/pkg/logging"
	"github.com/optimuslab/delta-feed/pkg/ratelimit"
)

// DebugClientConfig holds configuration for the HTTP debug client
type DebugClientConfig struct {
	// Inherits the base client configuration
	*ClientConfig

	// LogResponseBody controls whether response bodies are dumped.
	LogResponseBody bool

	// MaxBodyLogSize caps how much of a body is logged. Candle and
	// product payloads can run to megabytes.
	MaxBodyLogSize int
}

// DefaultDebugConfig returns a default debug client configuration
func DefaultDebugConfig() *DebugClientConfig {
	return &DebugClientConfig{
		ClientConfig:    DefaultConfig(),
		LogResponseBody: true,
		MaxBodyLogSize:  4096,
	}
}

// NewDebugHTTPClient creates an HTTP client that dumps every request and
// response at debug level. Enabled by FeedOptions.Debug; useful when
// probing which endpoint versions an exchange still serves.
func NewDebugHTTPClient(config *DebugClientConfig) HTTPClient {
	if config == nil {
		config = DefaultDebugConfig()
	}

	// Ensure a debug-capable logger
	if _, isZap := config.Logger.(*logging.ZapLogger); !isZap {
		config.Logger = logging.NewZapLogger(
			logging.WithDebugLevel(),
			logging.WithDevelopmentMode(),
		)
	}

	return &debugClient{
		client: NewHTTPClient(config.ClientConfig).(*client),
		config: config,
	}
}

// debugClient implements the HTTPClient interface with additional debug logging
type debugClient struct {
	client *client
	config *DebugClientConfig
}

// Do implements HTTPClient interface with debug logging
func (c *debugClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()

	c.logRequest(req)

	resp, err := c.client.Do(ctx, req)

	duration := time.Since(start)
	if err != nil {
		c.logError(req, err, duration)
		return nil, err
	}

	c.logResponse(req, resp, duration)
	return resp, nil
}

// Get implements HTTPClient interface
func (c *debugClient) Get(ctx context.Context, rawURL string, headers map[string]string, params url.Values, attempts uint) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	c.logRequest(req)

	resp, err := c.client.do(ctx, req, attempts)

	duration := time.Since(start)
	if err != nil {
		c.logError(req, err, duration)
		return nil, err
	}

	c.logResponse(req, resp, duration)
	return resp, nil
}

// SetRateLimit implements HTTPClient interface
func (c *debugClient) SetRateLimit(limit ratelimit.Rate) error {
	return c.client.SetRateLimit(limit)
}

// logRequest logs the outgoing request. Feed requests never carry a body
// so only the request line and headers are dumped.
func (c *debugClient) logRequest(req *http.Request) {
	logger := c.client.logger

	reqDump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		logger.Warn("failed to dump request for logging", logging.Error(err))
	}

	logger.Debug("http request",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.String("dump", string(reqDump)))
}

// logResponse logs the response, preserving the body for the caller.
func (c *debugClient) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	logger := c.client.logger

	var respDump []byte
	var err error

	if c.config.LogResponseBody && resp.Body != nil {
		bodyBytes, bodyErr := io.ReadAll(resp.Body)
		if bodyErr != nil {
			logger.Warn("failed to read response body for logging",
				logging.Error(bodyErr))
		} else {
			logBody := bodyBytes
			if len(bodyBytes) > c.config.MaxBodyLogSize {
				logBody = bodyBytes[:c.config.MaxBodyLogSize]
				logger.Debug("response body truncated for logging",
					logging.Int("original_size", len(bodyBytes)),
					logging.Int("logged_size", len(logBody)))
			}

			respDump, err = httputil.DumpResponse(resp, false)
			if err == nil {
				respDump = append(respDump, "\r\n"...)
				respDump = append(respDump, logBody...)
			}

			// Restore the body
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	} else {
		respDump, err = httputil.DumpResponse(resp, false)
	}

	if err != nil {
		logger.Warn("failed to dump response for logging", logging.Error(err))
	}

	logger.Debug("http response",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", duration),
		logging.String("dump", string(respDump)))
}

// logError logs a failed request
func (c *debugClient) logError(req *http.Request, err error, duration time.Duration) {
	c.client.logger.Error("http request failed",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.Duration("duration", duration),
		logging.Error(err))
}
