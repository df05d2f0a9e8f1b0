package orthophoto_test

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	orthophoto "github.com/geodrape/go-orthophoto"
)

// gradientMosaic returns a mosaic whose pixel colors encode their position,
// so a decode can verify every sample survived the round trip.
func gradientMosaic(width, height int) *orthophoto.Mosaic {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(x * 30)
			img.Pix[i+1] = uint8(y * 40)
			img.Pix[i+2] = uint8(x + y)
			img.Pix[i+3] = 0xff
		}
	}
	return &orthophoto.Mosaic{
		Image:      img,
		OriginX:    700000,
		OriginY:    6431000,
		PixelSizeX: 0.5,
		PixelSizeY: 0.5,
		CRS:        "EPSG:2154",
	}
}

func TestGeoTIFFRoundTrip(t *testing.T) {
	original := gradientMosaic(7, 5)

	var buf bytes.Buffer
	assert.NoError(t, orthophoto.WriteGeoTIFF(&buf, original))

	decoded, err := orthophoto.ReadGeoTIFF(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	assert.Equal(t, original.OriginX, decoded.OriginX)
	assert.Equal(t, original.OriginY, decoded.OriginY)
	assert.Equal(t, original.PixelSizeX, decoded.PixelSizeX)
	assert.Equal(t, original.PixelSizeY, decoded.PixelSizeY)
	assert.Equal(t, original.CRS, decoded.CRS)
	assert.Equal(t, original.Width(), decoded.Width())
	assert.Equal(t, original.Height(), decoded.Height())
	for y := 0; y < original.Height(); y++ {
		for x := 0; x < original.Width(); x++ {
			wantR, wantG, wantB := original.At(x, y)
			gotR, gotG, gotB := decoded.At(x, y)
			assert.Equal(t, wantR, gotR)
			assert.Equal(t, wantG, gotG)
			assert.Equal(t, wantB, gotB)
		}
	}
}

func TestWriteGeoTIFF_RequiresEPSGCRS(t *testing.T) {
	mosaic := gradientMosaic(2, 2)
	for _, crs := range []string{
		"IGNF:LAMB93",
		"EPSG:",
		"EPSG:0",
		"EPSG:999999",
		"",
	} {
		mosaic.CRS = crs
		assert.Error(t, orthophoto.WriteGeoTIFF(&bytes.Buffer{}, mosaic))
	}
}

func TestReadGeoTIFF_NotATIFF(t *testing.T) {
	_, err := orthophoto.ReadGeoTIFF(bytes.NewReader([]byte("not a tiff")))
	assert.Error(t, err)
}

func TestWriteWorldFile(t *testing.T) {
	mosaic := &orthophoto.Mosaic{
		Image:      image.NewNRGBA(image.Rect(0, 0, 4, 4)),
		OriginX:    700000,
		OriginY:    6431000,
		PixelSizeX: 0.2,
		PixelSizeY: 0.2,
		CRS:        "EPSG:2154",
	}

	var buf bytes.Buffer
	assert.NoError(t, mosaic.WriteWorldFile(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, 6, len(lines))
	for i, want := range []string{
		"0.2000000000",
		"0.0000000000",
		"0.0000000000",
		"-0.2000000000",
		"700000.1000000000",
		"6430999.9000000000",
	} {
		assert.Equal(t, want, strings.TrimSpace(lines[i]))
	}
}
