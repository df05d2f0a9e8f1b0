// Package orthophoto fetches aerial imagery from remote WMS, WMTS and TMS
// servers and assembles it into a single georeferenced raster covering a
// LiDAR tile's footprint, reprojected into the point cloud's coordinate
// system.
package orthophoto

import (
	"image"

	"github.com/paulmach/orb"
)

// A Protocol identifies a remote imagery protocol family.
type Protocol string

const (
	// WMS requests the whole area as a single GetMap image.
	WMS Protocol = "wms"
	// WMTS addresses individual tiles by matrix/row/column, row 0 at the top.
	WMTS Protocol = "wmts"
	// TMS addresses individual tiles like WMTS but with row 0 at the bottom.
	TMS Protocol = "tms"
)

// A GridAddress identifies one server-side tile in a power-of-two tile
// pyramid. Valid only for WMTS and TMS layers.
type GridAddress struct {
	Zoom int
	Col  int
	Row  int
}

// A GridCoverage is the inclusive rectangular range of grid addresses that
// covers a bounding box at a given zoom level.
type GridCoverage struct {
	Zoom   int
	ColMin int
	RowMin int
	ColMax int
	RowMax int
}

// Cols returns the number of tile columns in c.
func (c GridCoverage) Cols() int {
	return c.ColMax - c.ColMin + 1
}

// Rows returns the number of tile rows in c.
func (c GridCoverage) Rows() int {
	return c.RowMax - c.RowMin + 1
}

// Count returns the total number of tiles in c.
func (c GridCoverage) Count() int {
	return c.Cols() * c.Rows()
}

// Contains reports whether addr falls inside c.
func (c GridCoverage) Contains(addr GridAddress) bool {
	return addr.Zoom == c.Zoom &&
		c.ColMin <= addr.Col && addr.Col <= c.ColMax &&
		c.RowMin <= addr.Row && addr.Row <= c.RowMax
}

// Addresses returns every grid address in c in row-major order.
func (c GridCoverage) Addresses() []GridAddress {
	addrs := make([]GridAddress, 0, c.Count())
	for row := c.RowMin; row <= c.RowMax; row++ {
		for col := c.ColMin; col <= c.ColMax; col++ {
			addrs = append(addrs, GridAddress{Zoom: c.Zoom, Col: col, Row: row})
		}
	}
	return addrs
}

// A Mosaic is a georeferenced raster: RGB pixels plus the geotransform that
// places them in a coordinate reference system. OriginX, OriginY is the
// upper-left corner of the upper-left pixel; PixelSizeY is positive and
// measures downwards, as in a north-up world file.
type Mosaic struct {
	Image      *image.NRGBA
	OriginX    float64
	OriginY    float64
	PixelSizeX float64
	PixelSizeY float64
	CRS        string
}

// Width returns the mosaic width in pixels.
func (m *Mosaic) Width() int {
	return m.Image.Rect.Dx()
}

// Height returns the mosaic height in pixels.
func (m *Mosaic) Height() int {
	return m.Image.Rect.Dy()
}

// Bound returns the geographic extent covered by m in its own CRS.
func (m *Mosaic) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{m.OriginX, m.OriginY - float64(m.Height())*m.PixelSizeY},
		Max: orb.Point{m.OriginX + float64(m.Width())*m.PixelSizeX, m.OriginY},
	}
}

// At returns the RGB value of the pixel at x, y.
func (m *Mosaic) At(x, y int) (r, g, b uint8) {
	i := m.Image.PixOffset(x, y)
	return m.Image.Pix[i], m.Image.Pix[i+1], m.Image.Pix[i+2]
}
