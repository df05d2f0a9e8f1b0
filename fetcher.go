package orthophoto

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orthophoto_tile_cache_hits_total",
		Help: "The total number of hits on the on-disk tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orthophoto_tile_cache_misses_total",
		Help: "The total number of misses on the on-disk tile cache",
	})
	memCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orthophoto_memory_cache_hits_total",
		Help: "The total number of hits on the in-memory tile cache",
	})
	fetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orthophoto_fetches_total",
		Help: "The total number of HTTP fetches issued",
	})
	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orthophoto_fetch_retries_total",
		Help: "The total number of HTTP fetch retries",
	})
	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orthophoto_fetch_failures_total",
		Help: "The total number of HTTP fetches that exhausted all attempts",
	})
)

// A Fetcher retrieves remote imagery with an on-disk cache, an in-memory
// cache in front of it, bounded retries, and single-flight deduplication of
// concurrent requests for the same entry. Cache entries are immutable once
// written and survive across invocations; deleting the cache directory only
// forces a re-fetch.
type Fetcher struct {
	client         *http.Client
	cacheDir       string
	userAgent      string
	maxAttempts    int
	retryBaseDelay time.Duration
	memCacheSize   int
	memCache       *lru.Cache[string, []byte]
	group          singleflight.Group
}

// A FetcherOption sets an option on a Fetcher.
type FetcherOption func(*Fetcher)

// NewFetcher returns a new Fetcher with the given options.
func NewFetcher(options ...FetcherOption) (*Fetcher, error) {
	f := &Fetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cacheDir:       ".cache",
		userAgent:      "go-orthophoto",
		maxAttempts:    4,
		retryBaseDelay: 500 * time.Millisecond,
		memCacheSize:   256,
	}
	for _, option := range options {
		option(f)
	}

	var err error
	f.memCache, err = lru.New[string, []byte](f.memCacheSize)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func WithCacheDir(cacheDir string) FetcherOption {
	return func(f *Fetcher) {
		f.cacheDir = cacheDir
	}
}

func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

func WithUserAgent(userAgent string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = userAgent
	}
}

func WithMaxAttempts(maxAttempts int) FetcherOption {
	return func(f *Fetcher) {
		f.maxAttempts = maxAttempts
	}
}

func WithRetryBaseDelay(delay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryBaseDelay = delay
	}
}

func WithMemCacheSize(size int) FetcherOption {
	return func(f *Fetcher) {
		f.memCacheSize = size
	}
}

// FetchTile returns the raw image bytes of one grid tile of layer.
func (f *Fetcher) FetchTile(ctx context.Context, layer Layer, addr GridAddress) ([]byte, error) {
	requestURL := tileURL(layer, addr)
	cachePath := filepath.Join(f.cacheDir, layer.Name,
		strconv.Itoa(addr.Zoom), strconv.Itoa(addr.Col), strconv.Itoa(addr.Row)+"."+formatExt(layer.Format))
	return f.fetchCached(ctx, layer, cachePath, requestURL)
}

// FetchArea returns the raw image bytes of a single area request covering
// bound in crs, rendered at width x height pixels.
func (f *Fetcher) FetchArea(ctx context.Context, layer Layer, bound orb.Bound, crs string, width, height int) ([]byte, error) {
	requestURL := areaURL(layer, bound, crs, width, height)
	signature := sha256.Sum256([]byte(requestURL))
	cachePath := filepath.Join(f.cacheDir, layer.Name, "wms",
		hex.EncodeToString(signature[:])+"."+formatExt(layer.Format))
	return f.fetchCached(ctx, layer, cachePath, requestURL)
}

// fetchCached returns the bytes for requestURL, consulting the in-memory and
// on-disk caches first. Concurrent callers of the same cache entry share a
// single fetch.
func (f *Fetcher) fetchCached(ctx context.Context, layer Layer, cachePath, requestURL string) ([]byte, error) {
	if data, ok := f.memCache.Get(cachePath); ok {
		memCacheHits.Inc()
		return data, nil
	}

	result, err, _ := f.group.Do(cachePath, func() (any, error) {
		switch data, err := os.ReadFile(cachePath); {
		case err == nil:
			tileCacheHits.Inc()
			return data, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
		tileCacheMisses.Inc()

		data, err := f.fetchWithRetry(ctx, layer, requestURL)
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(cachePath, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data := result.([]byte)
	f.memCache.Add(cachePath, data)
	return data, nil
}

// fetchWithRetry issues the HTTP GET, retrying transient failures (timeouts,
// connection resets, 5xx and 429 statuses) with bounded exponential backoff.
// On exhaustion it fails with a FetchExhaustedError naming the request.
func (f *Fetcher) fetchWithRetry(ctx context.Context, layer Layer, requestURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			fetchRetries.Inc()
			delay := f.retryBaseDelay << uint(attempt-2)
			if delay > 8*time.Second {
				delay = 8 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, transient, err := f.fetchOnce(ctx, requestURL)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		if !transient {
			fetchFailures.Inc()
			return nil, &FetchExhaustedError{Layer: layer.Name, URL: requestURL, Attempts: attempt, Err: err}
		}
	}
	fetchFailures.Inc()
	return nil, &FetchExhaustedError{Layer: layer.Name, URL: requestURL, Attempts: f.maxAttempts, Err: lastErr}
}

// fetchOnce performs a single GET. The second return value reports whether
// the failure is worth retrying.
func (f *Fetcher) fetchOnce(ctx context.Context, requestURL string) ([]byte, bool, error) {
	fetchesTotal.Inc()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// Timeouts and connection resets surface here.
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, err
		}
		return data, false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, true, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	default:
		return nil, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
}

// writeFileAtomic writes data to path via a temporary file and rename, so
// concurrent readers never observe a partially written cache entry.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// tileURL substitutes addr and the layer parameters into the layer's
// endpoint template. TMS layers count rows from the bottom of the pyramid,
// so the row index is flipped there.
func tileURL(layer Layer, addr GridAddress) string {
	row := addr.Row
	if layer.Protocol == TMS {
		row = int(int64(1)<<uint(addr.Zoom)) - 1 - addr.Row
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(addr.Zoom),
		"{x}", strconv.Itoa(addr.Col),
		"{y}", strconv.Itoa(row),
		"{layer}", url.QueryEscape(layer.LayerID),
		"{style}", url.QueryEscape(layer.Style),
		"{matrixset}", url.QueryEscape(layer.MatrixSet),
		"{format}", url.QueryEscape(layer.Format),
		"{key}", url.PathEscape(layer.AccessKey),
	).Replace(layer.URL)
}

// areaURL builds a WMS GetMap request for bound in crs.
func areaURL(layer Layer, bound orb.Bound, crs string, width, height int) string {
	endpoint := strings.ReplaceAll(layer.URL, "{key}", url.PathEscape(layer.AccessKey))
	format := layer.Format
	if format == "" {
		format = "image/jpeg"
	}
	values := url.Values{}
	values.Set("SERVICE", "WMS")
	values.Set("VERSION", "1.3.0")
	values.Set("REQUEST", "GetMap")
	values.Set("LAYERS", layer.LayerID)
	values.Set("STYLES", layer.Style)
	values.Set("CRS", crs)
	// Projected CRSs used for imagery are easting/northing ordered.
	values.Set("BBOX", fmt.Sprintf("%f,%f,%f,%f", bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]))
	values.Set("WIDTH", strconv.Itoa(width))
	values.Set("HEIGHT", strconv.Itoa(height))
	values.Set("FORMAT", format)
	separator := "?"
	if strings.Contains(endpoint, "?") {
		separator = "&"
	}
	return endpoint + separator + values.Encode()
}

// formatExt returns the cache file extension for a MIME image format.
func formatExt(format string) string {
	switch format {
	case "image/png":
		return "png"
	case "image/jpeg", "":
		return "jpg"
	default:
		if i := strings.LastIndex(format, "/"); i >= 0 && i+1 < len(format) {
			return format[i+1:]
		}
		return "img"
	}
}
