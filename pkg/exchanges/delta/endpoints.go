package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/optimuslab/delta-feed/pkg/common"
	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
)

// Built-in fallback paths, newest API version first. The configured
// primary path is tried before these.
var (
	candlePaths = []string{
		"/v3/public/candles",
		"/v2/public/candles",
		"/public/candles",
	}

	// The deprecated /public/products route is intentionally absent.
	productPaths = []string{
		"/v3/public/products",
		"/v2/public/products",
	}
)

// candidatePaths builds the ordered path list for one logical operation:
// the configured primary first, then the built-in fallbacks, with
// duplicates removed and order preserved.
func candidatePaths(primary string, builtin []string) []string {
	out := make([]string, 0, len(builtin)+1)
	seen := make(map[string]bool, len(builtin)+1)
	if primary != "" {
		out = append(out, primary)
		seen[primary] = true
	}
	for _, p := range builtin {
		if !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	return out
}

// resolver walks an ordered list of candidate endpoint paths until one
// yields parseable JSON. It has no knowledge of payload schemas; that is
// the normalizers' job.
type resolver struct {
	http    common.HTTPClient
	baseURL string
	logger  logging.Logger
}

// resolveJSON tries each path in order via the transport. The first
// response that parses as JSON wins and later paths are never tried.
// When every path fails the returned EndpointsError names all attempted
// paths and carries the last underlying error.
func (r *resolver) resolveJSON(ctx context.Context, op string, paths []string, params url.Values, attempts uint) (json.RawMessage, error) {
	headers := map[string]string{"Content-Type": "application/json"}

	var lastErr error
	for _, path := range paths {
		rawURL := r.baseURL + path

		resp, err := r.http.Get(ctx, rawURL, headers, params, attempts)
		if err != nil {
			r.logger.Debug("endpoint failed, trying next",
				logging.String("operation", op),
				logging.String("path", path),
				logging.Error(err),
			)
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading %s response: %w", path, err)
			continue
		}

		var raw json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			lastErr = fmt.Errorf("%s returned non-JSON body: %w", path, err)
			continue
		}

		return raw, nil
	}

	if lastErr == nil {
		lastErr = interfaces.ErrExchangeUnavailable
	}
	return nil, &interfaces.EndpointsError{
		Operation: op,
		Paths:     paths,
		Last:      lastErr,
	}
}
