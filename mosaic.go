package orthophoto

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/paulmach/orb"
	"golang.org/x/image/draw"
)

// Assemble stitches fetched grid tiles into one contiguous georeferenced
// raster. Every address of coverage must be present in tiles and decode to a
// matrix.TileSize square image; a missing or corrupt tile is a hard failure,
// since a gap would produce undefined coloring in the final point cloud.
// Tiles are placed by their own coordinates, so the iteration order of the
// map does not matter.
func Assemble(tiles map[GridAddress][]byte, coverage GridCoverage, matrix TileMatrix) (*Mosaic, error) {
	tileSize := matrix.TileSize
	width := coverage.Cols() * tileSize
	height := coverage.Rows() * tileSize
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	for _, addr := range coverage.Addresses() {
		data, ok := tiles[addr]
		if !ok {
			return nil, &IncompleteMosaicError{Address: addr}
		}
		tile, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &IncompleteMosaicError{Address: addr, Err: err}
		}
		if tile.Bounds().Dx() != tileSize || tile.Bounds().Dy() != tileSize {
			return nil, &IncompleteMosaicError{
				Address: addr,
				Err:     fmt.Errorf("tile is %dx%d, expected %dx%d", tile.Bounds().Dx(), tile.Bounds().Dy(), tileSize, tileSize),
			}
		}
		offset := image.Pt((addr.Col-coverage.ColMin)*tileSize, (addr.Row-coverage.RowMin)*tileSize)
		draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(tileSize, tileSize))}, tile, tile.Bounds().Min, draw.Src)
	}

	origin := matrix.CellBound(GridAddress{Zoom: coverage.Zoom, Col: coverage.ColMin, Row: coverage.RowMin})
	return &Mosaic{
		Image:      canvas,
		OriginX:    origin.Min[0],
		OriginY:    origin.Max[1],
		PixelSizeX: matrix.MetersPerPixel(),
		PixelSizeY: matrix.MetersPerPixel(),
		CRS:        matrix.CRS,
	}, nil
}

// Wrap decodes a single area-request image and attaches the geotransform
// implied by the requested bound.
func Wrap(data []byte, bound orb.Bound, crs string) (*Mosaic, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode area image: %w", err)
	}
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty area image")
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)
	return &Mosaic{
		Image:      canvas,
		OriginX:    bound.Min[0],
		OriginY:    bound.Max[1],
		PixelSizeX: (bound.Max[0] - bound.Min[0]) / float64(width),
		PixelSizeY: (bound.Max[1] - bound.Min[1]) / float64(height),
		CRS:        crs,
	}, nil
}

// EncodePNG writes m's pixels as a PNG. Georeferencing is carried separately
// in a world file, see WriteWorldFile.
func (m *Mosaic) EncodePNG(w io.Writer) error {
	return png.Encode(w, m.Image)
}
