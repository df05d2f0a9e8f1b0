package orthophoto_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	orthophoto "github.com/geodrape/go-orthophoto"
)

func testTileLayer(serverURL string) orthophoto.Layer {
	return orthophoto.Layer{
		Name:     "test",
		Protocol: orthophoto.WMTS,
		URL:      serverURL + "/{z}/{x}/{y}.png",
		LayerID:  "test",
		Format:   "image/png",
		CRS:      "EPSG:3857",
		Zoom:     4,
		TileSize: 8,
	}
}

func newTestFetcher(t *testing.T, options ...orthophoto.FetcherOption) *orthophoto.Fetcher {
	t.Helper()
	fetcher, err := orthophoto.NewFetcher(append([]orthophoto.FetcherOption{
		orthophoto.WithCacheDir(t.TempDir()),
		orthophoto.WithRetryBaseDelay(time.Millisecond),
	}, options...)...)
	assert.NoError(t, err)
	return fetcher
}

func TestFetcher_CacheRoundTrip(t *testing.T) {
	var requests atomic.Int64
	tileData := encodeTile(t, 8, color.NRGBA{R: 7})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write(tileData)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	layer := testTileLayer(server.URL)
	addr := orthophoto.GridAddress{Zoom: 4, Col: 3, Row: 2}

	fetcher, err := orthophoto.NewFetcher(orthophoto.WithCacheDir(cacheDir))
	assert.NoError(t, err)
	first, err := fetcher.FetchTile(context.Background(), layer, addr)
	assert.NoError(t, err)
	assert.Equal(t, tileData, first)
	assert.Equal(t, int64(1), requests.Load())

	// Same fetcher: served from memory.
	second, err := fetcher.FetchTile(context.Background(), layer, addr)
	assert.NoError(t, err)
	assert.Equal(t, tileData, second)
	assert.Equal(t, int64(1), requests.Load())

	// A fresh fetcher over the same cache directory: served from disk, still
	// no network access.
	fresh, err := orthophoto.NewFetcher(orthophoto.WithCacheDir(cacheDir))
	assert.NoError(t, err)
	third, err := fresh.FetchTile(context.Background(), layer, addr)
	assert.NoError(t, err)
	assert.Equal(t, tileData, third)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	var requests atomic.Int64
	tileData := encodeTile(t, 8, color.NRGBA{G: 9})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(tileData)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, orthophoto.WithMaxAttempts(4))
	data, err := fetcher.FetchTile(context.Background(), testTileLayer(server.URL), orthophoto.GridAddress{Zoom: 4, Col: 1, Row: 1})
	assert.NoError(t, err)
	assert.Equal(t, tileData, data)
	assert.Equal(t, int64(3), requests.Load())
}

func TestFetcher_Exhaustion(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, orthophoto.WithMaxAttempts(3))
	_, err := fetcher.FetchTile(context.Background(), testTileLayer(server.URL), orthophoto.GridAddress{Zoom: 4, Col: 1, Row: 1})
	var exhaustedErr *orthophoto.FetchExhaustedError
	assert.True(t, errors.As(err, &exhaustedErr))
	assert.Equal(t, "test", exhaustedErr.Layer)
	assert.Equal(t, 3, exhaustedErr.Attempts)
	assert.Equal(t, int64(3), requests.Load())
}

func TestFetcher_PermanentFailureIsNotRetried(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, orthophoto.WithMaxAttempts(5))
	_, err := fetcher.FetchTile(context.Background(), testTileLayer(server.URL), orthophoto.GridAddress{Zoom: 4, Col: 1, Row: 1})
	var exhaustedErr *orthophoto.FetchExhaustedError
	assert.True(t, errors.As(err, &exhaustedErr))
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetcher_SingleFlight(t *testing.T) {
	var requests atomic.Int64
	tileData := encodeTile(t, 8, color.NRGBA{B: 11})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(tileData)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	layer := testTileLayer(server.URL)
	addr := orthophoto.GridAddress{Zoom: 4, Col: 2, Row: 2}

	var group sync.WaitGroup
	for range 8 {
		group.Add(1)
		go func() {
			defer group.Done()
			data, err := fetcher.FetchTile(context.Background(), layer, addr)
			assert.NoError(t, err)
			assert.True(t, bytes.Equal(tileData, data))
		}()
	}
	group.Wait()

	// Concurrent fetches of the same address are deduplicated into one
	// request.
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetcher_FetchArea(t *testing.T) {
	var requests atomic.Int64
	imageData := encodeTile(t, 16, color.NRGBA{R: 3, G: 5, B: 7})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		query := r.URL.Query()
		assert.Equal(t, "GetMap", query.Get("REQUEST"))
		assert.Equal(t, "EPSG:3857", query.Get("CRS"))
		assert.Equal(t, "16", query.Get("WIDTH"))
		assert.Equal(t, "16", query.Get("HEIGHT"))
		_, _ = w.Write(imageData)
	}))
	defer server.Close()

	layer := orthophoto.Layer{
		Name:     "test-wms",
		Protocol: orthophoto.WMS,
		URL:      server.URL,
		LayerID:  "test",
		Format:   "image/png",
		CRS:      "EPSG:3857",
	}
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{160, 160}}

	fetcher := newTestFetcher(t)
	first, err := fetcher.FetchArea(context.Background(), layer, bound, "EPSG:3857", 16, 16)
	assert.NoError(t, err)
	assert.Equal(t, imageData, first)

	second, err := fetcher.FetchArea(context.Background(), layer, bound, "EPSG:3857", 16, 16)
	assert.NoError(t, err)
	assert.Equal(t, imageData, second)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetcher_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, orthophoto.WithMaxAttempts(1000), orthophoto.WithRetryBaseDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := fetcher.FetchTile(ctx, testTileLayer(server.URL), orthophoto.GridAddress{Zoom: 4, Col: 0, Row: 0})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
