package orthophoto_test

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	orthophoto "github.com/geodrape/go-orthophoto"
)

// uniformMosaic returns a width x height mosaic filled with one color.
func uniformMosaic(width, height int, originX, originY, pixelSize float64, crs string, r, g, b uint8) *orthophoto.Mosaic {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = 0xff
	}
	return &orthophoto.Mosaic{
		Image:      img,
		OriginX:    originX,
		OriginY:    originY,
		PixelSizeX: pixelSize,
		PixelSizeY: pixelSize,
		CRS:        crs,
	}
}

func TestReproject_IdentityIsNoOp(t *testing.T) {
	mosaic := uniformMosaic(16, 16, 700000, 6431000, 0.5, "EPSG:2154", 10, 20, 30)
	result, err := orthophoto.Reproject(mosaic, "EPSG:2154", 0.25)
	assert.NoError(t, err)
	assert.True(t, result == mosaic)
}

func TestReproject_WebMercatorToLambert93(t *testing.T) {
	// A mosaic centered on the Web Mercator image of Lambert-93
	// (700000, 6430000), roughly 1.5 km on each side.
	transformer, err := orthophoto.NewTransformer("EPSG:2154", "EPSG:3857")
	assert.NoError(t, err)
	center, err := transformer.Project(orb.Point{700000, 6430000})
	assert.NoError(t, err)

	const pixelSize = 10.0
	const size = 300
	mosaic := uniformMosaic(size, size,
		center[0]-size/2*pixelSize, center[1]+size/2*pixelSize,
		pixelSize, "EPSG:3857", 50, 100, 150)

	warped, err := orthophoto.Reproject(mosaic, "EPSG:2154", 10)
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:2154", warped.CRS)
	assert.Equal(t, float64(10), warped.PixelSizeX)
	assert.True(t, warped.Width() > 0)
	assert.True(t, warped.Height() > 0)

	// The warped extent encloses the reprojected source extent.
	sourceBound, err := transformer.ProjectBound(warped.Bound())
	assert.NoError(t, err)
	assert.True(t, sourceBound.Min[0] <= mosaic.Bound().Max[0])

	// The center keeps the uniform source color; bilinear resampling of a
	// constant raster is constant.
	r, g, b := warped.At(warped.Width()/2, warped.Height()/2)
	assert.Equal(t, uint8(50), r)
	assert.Equal(t, uint8(100), g)
	assert.Equal(t, uint8(150), b)

	// The warped center maps back to the source center.
	warpedBound := warped.Bound()
	centerX := (warpedBound.Min[0] + warpedBound.Max[0]) / 2
	centerY := (warpedBound.Min[1] + warpedBound.Max[1]) / 2
	assert.True(t, math.Abs(centerX-700000) < 50)
	assert.True(t, math.Abs(centerY-6430000) < 50)
}

func TestReproject_UnknownTargetCRS(t *testing.T) {
	mosaic := uniformMosaic(8, 8, 0, 0, 1, "EPSG:3857", 1, 2, 3)
	_, err := orthophoto.Reproject(mosaic, "EPSG:999999", 1)
	var unknownErr *orthophoto.UnknownProjectionError
	assert.True(t, errors.As(err, &unknownErr))
}
