package delta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimuslab/delta-feed/pkg/common"
	"github.com/optimuslab/delta-feed/pkg/exchanges/interfaces"
	"github.com/optimuslab/delta-feed/pkg/logging"
	"github.com/optimuslab/delta-feed/pkg/ratelimit"
)

// testTransport returns an HTTP client tuned for fast tests: millisecond
// backoff, no circuit breaker, quiet logging.
func testTransport() common.HTTPClient {
	cfg := common.DefaultConfig()
	cfg.Retry.BaseBackoff = time.Millisecond
	cfg.Retry.MaxSleep = 2 * time.Millisecond
	cfg.RateLimit = ratelimit.Rate{Limit: 1000, Interval: time.Second}
	cfg.BreakerThreshold = 0
	cfg.Logger = logging.NewNopLogger()
	return common.NewHTTPClient(cfg)
}

// pathRecorder tracks which paths a test server was asked for.
type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *pathRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

func TestCandidatePaths(t *testing.T) {
	t.Run("primary first", func(t *testing.T) {
		got := candidatePaths("/custom/candles", candlePaths)
		assert.Equal(t, []string{
			"/custom/candles",
			"/v3/public/candles",
			"/v2/public/candles",
			"/public/candles",
		}, got)
	})

	t.Run("primary equal to a builtin is not duplicated", func(t *testing.T) {
		got := candidatePaths("/v3/public/candles", candlePaths)
		assert.Equal(t, candlePaths, got)
	})

	t.Run("empty primary", func(t *testing.T) {
		got := candidatePaths("", productPaths)
		assert.Equal(t, productPaths, got)
	})
}

func TestResolveJSONFallsBackInOrder(t *testing.T) {
	rec := &pathRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		switch r.URL.Path {
		case "/v3/public/candles":
			http.NotFound(w, r)
		case "/v2/public/candles":
			w.Write([]byte(`{"result":[{"t":1700000000,"open":1,"high":2,"low":0.5,"close":1.5}]}`))
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	r := &resolver{http: testTransport(), baseURL: server.URL, logger: logging.NewNopLogger()}
	raw, err := r.resolveJSON(context.Background(), "candles", candlePaths, nil, 1)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"result"`)

	// The winning path short-circuits: /public/candles is never tried.
	assert.Equal(t, []string{"/v3/public/candles", "/v2/public/candles"}, rec.seen())
}

func TestResolveJSONSkipsNonJSONBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/public/products":
			w.Write([]byte(`<html>moved</html>`))
		case "/v2/public/products":
			w.Write([]byte(`{"result":[]}`))
		}
	}))
	t.Cleanup(server.Close)

	r := &resolver{http: testTransport(), baseURL: server.URL, logger: logging.NewNopLogger()}
	raw, err := r.resolveJSON(context.Background(), "products", productPaths, nil, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":[]}`, string(raw))
}

func TestResolveJSONAllPathsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	r := &resolver{http: testTransport(), baseURL: server.URL, logger: logging.NewNopLogger()}
	_, err := r.resolveJSON(context.Background(), "candles", candlePaths, nil, 1)
	require.Error(t, err)

	var epErr *interfaces.EndpointsError
	require.ErrorAs(t, err, &epErr)
	assert.Equal(t, "candles", epErr.Operation)
	assert.Equal(t, candlePaths, epErr.Paths)

	// The chain bottoms out in the last transport failure.
	var statusErr *common.StatusError
	assert.ErrorAs(t, err, &statusErr)
	for _, p := range candlePaths {
		assert.Contains(t, err.Error(), p)
	}
}

func TestResolveJSONPassesParams(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	params := url.Values{}
	params.Set("resolution", "15m")
	params.Set("symbol", "ETHUSD")

	r := &resolver{http: testTransport(), baseURL: server.URL, logger: logging.NewNopLogger()}
	_, err := r.resolveJSON(context.Background(), "candles", []string{"/v3/public/candles"}, params, 1)
	require.NoError(t, err)
	assert.Equal(t, "15m", got.Get("resolution"))
	assert.Equal(t, "ETHUSD", got.Get("symbol"))
}
