package orthophoto

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// A Service turns a bounding box and a layer name into one georeferenced
// mosaic in the caller's coordinate system: it pads the box with a safety
// margin, projects it into the layer's CRS, fetches the covering imagery
// with the protocol strategy the layer calls for, assembles it, and warps
// the result back into the caller's CRS.
//
// Multiple LiDAR tiles may be processed concurrently with the same Service;
// instances share only the read-mostly catalog and the fetch cache.
type Service struct {
	catalog         Catalog
	fetcher         *Fetcher
	margin          float64
	resolution      float64
	concurrency     int
	targetPixelSize float64
}

// A ServiceOption sets an option on a Service.
type ServiceOption func(*Service)

// NewService returns a new Service using catalog and fetcher.
func NewService(catalog Catalog, fetcher *Fetcher, options ...ServiceOption) *Service {
	s := &Service{
		catalog: catalog,
		fetcher: fetcher,
		// Margin in the caller's CRS units added on all sides before tile
		// selection, so coverage survives resampling at the edges after
		// reprojection.
		margin: 100,
		// Ground resolution for WMS area requests.
		resolution:  0.20,
		concurrency: 4,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithMargin sets the safety margin, in units of the caller's CRS, added on
// all four sides of the bounding box.
func WithMargin(margin float64) ServiceOption {
	return func(s *Service) {
		s.margin = margin
	}
}

// WithResolution sets the ground resolution, in layer CRS units per pixel,
// used to size WMS area requests.
func WithResolution(resolution float64) ServiceOption {
	return func(s *Service) {
		s.resolution = resolution
	}
}

// WithFetchConcurrency bounds the number of tile fetches in flight at once,
// out of courtesy to third-party servers.
func WithFetchConcurrency(concurrency int) ServiceOption {
	return func(s *Service) {
		s.concurrency = concurrency
	}
}

// WithTargetPixelSize sets the pixel size of the reprojected mosaic, in
// units of the caller's CRS. It should match or exceed the LiDAR point
// density to avoid under-sampling. Zero derives it from the source mosaic.
func WithTargetPixelSize(pixelSize float64) ServiceOption {
	return func(s *Service) {
		s.targetPixelSize = pixelSize
	}
}

// Orthophoto returns a mosaic covering bound (expressed in boundCRS) plus
// the configured margin, in boundCRS, from the named layer.
func (s *Service) Orthophoto(ctx context.Context, layerName string, bound orb.Bound, boundCRS string) (*Mosaic, error) {
	layer, err := s.catalog.Layer(layerName)
	if err != nil {
		return nil, err
	}

	padded := pad(bound, s.margin)

	layerBound := padded
	if layer.CRS != boundCRS {
		transformer, err := NewTransformer(boundCRS, layer.CRS)
		if err != nil {
			return nil, err
		}
		layerBound, err = transformer.ProjectBound(padded)
		if err != nil {
			return nil, fmt.Errorf("project bound to %s: %w", layer.CRS, err)
		}
	}

	source, err := s.source(layer)
	if err != nil {
		return nil, err
	}
	mosaic, err := source.fetchCoverage(ctx, layerBound)
	if err != nil {
		return nil, err
	}

	return Reproject(mosaic, boundCRS, s.targetPixelSize)
}

// A source fetches the imagery covering a bounding box in the layer's CRS
// and assembles it into one mosaic. There is one implementation per protocol
// family.
type source interface {
	fetchCoverage(ctx context.Context, bound orb.Bound) (*Mosaic, error)
}

func (s *Service) source(layer Layer) (source, error) {
	switch layer.Protocol {
	case WMTS, TMS:
		return &gridSource{layer: layer, fetcher: s.fetcher, concurrency: s.concurrency}, nil
	case WMS:
		return &areaSource{layer: layer, fetcher: s.fetcher, resolution: s.resolution}, nil
	default:
		return nil, fmt.Errorf("layer %s: unsupported protocol %q", layer.Name, layer.Protocol)
	}
}

// A gridSource covers the bound with individual pyramid tiles fetched
// concurrently and stitched into one raster.
type gridSource struct {
	layer       Layer
	fetcher     *Fetcher
	concurrency int
}

func (g *gridSource) fetchCoverage(ctx context.Context, bound orb.Bound) (*Mosaic, error) {
	if g.layer.CRS != "EPSG:3857" {
		return nil, fmt.Errorf("layer %s: grid protocols require the global Web Mercator pyramid, got %s", g.layer.Name, g.layer.CRS)
	}
	if g.layer.MaxZoom > 0 && g.layer.Zoom > g.layer.MaxZoom {
		return nil, &InvalidZoomError{Zoom: g.layer.Zoom, MaxZoom: g.layer.MaxZoom}
	}
	matrix, err := NewWebMercatorMatrix(g.layer.Zoom, g.layer.tileSize())
	if err != nil {
		return nil, err
	}

	coverage := matrix.Coverage(bound)
	tiles := make(map[GridAddress][]byte, coverage.Count())
	var tilesMutex sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for _, addr := range coverage.Addresses() {
		group.Go(func() error {
			data, err := g.fetcher.FetchTile(groupCtx, g.layer, addr)
			if err != nil {
				return err
			}
			tilesMutex.Lock()
			tiles[addr] = data
			tilesMutex.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return Assemble(tiles, coverage, matrix)
}

// An areaSource covers the bound with a single area request sized by the
// configured ground resolution.
type areaSource struct {
	layer      Layer
	fetcher    *Fetcher
	resolution float64
}

func (a *areaSource) fetchCoverage(ctx context.Context, bound orb.Bound) (*Mosaic, error) {
	width := int(math.Ceil((bound.Max[0] - bound.Min[0]) / a.resolution))
	height := int(math.Ceil((bound.Max[1] - bound.Min[1]) / a.resolution))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("layer %s: empty area request for %v", a.layer.Name, bound)
	}
	data, err := a.fetcher.FetchArea(ctx, a.layer, bound, a.layer.CRS, width, height)
	if err != nil {
		return nil, err
	}
	return Wrap(data, bound, a.layer.CRS)
}
