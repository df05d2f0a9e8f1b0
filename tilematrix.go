package orthophoto

import (
	"math"

	"github.com/paulmach/orb"
)

// Web Mercator (EPSG:3857) tile pyramid constants, as advertised by the
// WMTS GoogleMapsCompatible / PM tile matrix set.
const (
	webMercatorOriginX = -20037508.3427892476320267
	webMercatorOriginY = 20037508.3427892476320267

	// Scale denominator of zoom level 0. Meters per pixel at zoom z is
	// 0.00028 * webMercatorScaleDenominator0 / 2^z per the WMTS standard
	// pixel size.
	webMercatorScaleDenominator0 = 559082264.0287178958533332

	// MaxZoom is the deepest zoom level accepted for the standard global
	// pyramid.
	MaxZoom = 24
)

// A TileMatrix describes one zoom level of a power-of-two tile pyramid:
// grid origin at the upper-left corner of the projected world extent, cell
// size halving with each zoom increment. Rows grow downwards (south) and
// columns grow eastwards, as in WMTS and XYZ addressing; TMS row flipping is
// an addressing concern handled at URL construction.
type TileMatrix struct {
	Zoom           int
	TileSize       int
	OriginX        float64
	OriginY        float64
	CRS            string
	metersPerPixel float64
}

// NewWebMercatorMatrix returns the standard global Web Mercator tile matrix
// at the given zoom level.
func NewWebMercatorMatrix(zoom, tileSize int) (TileMatrix, error) {
	if zoom < 0 || zoom > MaxZoom {
		return TileMatrix{}, &InvalidZoomError{Zoom: zoom, MaxZoom: MaxZoom}
	}
	return TileMatrix{
		Zoom:           zoom,
		TileSize:       tileSize,
		OriginX:        webMercatorOriginX,
		OriginY:        webMercatorOriginY,
		CRS:            "EPSG:3857",
		metersPerPixel: 0.00028 * webMercatorScaleDenominator0 / float64(int64(1)<<uint(zoom)),
	}, nil
}

// MetersPerPixel returns the ground size of one pixel at m's zoom level.
func (m TileMatrix) MetersPerPixel() float64 {
	return m.metersPerPixel
}

// CellSpan returns the ground size of one tile at m's zoom level.
func (m TileMatrix) CellSpan() float64 {
	return float64(m.TileSize) * m.metersPerPixel
}

// maxIndex returns the largest valid row or column index.
func (m TileMatrix) maxIndex() int {
	if m.Zoom >= 63 {
		return math.MaxInt
	}
	return int(int64(1)<<uint(m.Zoom)) - 1
}

// Coverage returns the minimal rectangular range of grid cells covering
// bound. Every point of bound maps into some cell of the range, and no fully
// unused row or column is included. Indices are clamped to the valid range
// for the zoom level: a bound extending past the map edge is truncated to
// the valid grid.
func (m TileMatrix) Coverage(bound orb.Bound) GridCoverage {
	span := m.CellSpan()
	fxMin := (bound.Min[0] - m.OriginX) / span
	fxMax := (bound.Max[0] - m.OriginX) / span
	// Grid rows run north to south, so the minimum row comes from the
	// bound's maximum Y.
	fyMin := (m.OriginY - bound.Max[1]) / span
	fyMax := (m.OriginY - bound.Min[1]) / span

	coverage := GridCoverage{
		Zoom:   m.Zoom,
		ColMin: int(math.Floor(fxMin)),
		RowMin: int(math.Floor(fyMin)),
		ColMax: int(math.Ceil(fxMax)) - 1,
		RowMax: int(math.Ceil(fyMax)) - 1,
	}
	// A degenerate bound lying exactly on a cell edge still covers one cell.
	if coverage.ColMax < coverage.ColMin {
		coverage.ColMax = coverage.ColMin
	}
	if coverage.RowMax < coverage.RowMin {
		coverage.RowMax = coverage.RowMin
	}

	maxIndex := m.maxIndex()
	coverage.ColMin = clamp(coverage.ColMin, 0, maxIndex)
	coverage.ColMax = clamp(coverage.ColMax, 0, maxIndex)
	coverage.RowMin = clamp(coverage.RowMin, 0, maxIndex)
	coverage.RowMax = clamp(coverage.RowMax, 0, maxIndex)
	return coverage
}

// CellBound returns the geographic extent of the cell at addr.
func (m TileMatrix) CellBound(addr GridAddress) orb.Bound {
	span := m.CellSpan()
	minX := m.OriginX + float64(addr.Col)*span
	maxY := m.OriginY - float64(addr.Row)*span
	return orb.Bound{
		Min: orb.Point{minX, maxY - span},
		Max: orb.Point{minX + span, maxY},
	}
}

// Bound returns the geographic extent of the whole coverage.
func (m TileMatrix) Bound(coverage GridCoverage) orb.Bound {
	upperLeft := m.CellBound(GridAddress{Zoom: coverage.Zoom, Col: coverage.ColMin, Row: coverage.RowMin})
	lowerRight := m.CellBound(GridAddress{Zoom: coverage.Zoom, Col: coverage.ColMax, Row: coverage.RowMax})
	return orb.Bound{
		Min: orb.Point{upperLeft.Min[0], lowerRight.Min[1]},
		Max: orb.Point{lowerRight.Max[0], upperLeft.Max[1]},
	}
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// pad returns bound expanded by margin on all four sides.
func pad(bound orb.Bound, margin float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{bound.Min[0] - margin, bound.Min[1] - margin},
		Max: orb.Point{bound.Max[0] + margin, bound.Max[1] + margin},
	}
}
