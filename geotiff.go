package orthophoto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/geotiff"
)

// TIFF and GeoTIFF tags used by the mosaic writer and reader.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagSampleFormat              = 339
	tagModelPixelScale           = 33550
	tagModelTiepoint             = 33922
	tagGeoKeyDirectory           = 34735
)

// GeoTIFF geokeys used by the mosaic writer and reader.
const (
	geoKeyGTModelType  = 1024
	geoKeyGTRasterType = 1025
	geoKeyProjectedCRS = 3072

	geoModelTypeProjected = 1
	geoRasterPixelIsArea  = 1
)

const (
	fieldTypeShort  = 3
	fieldTypeLong   = 4
	fieldTypeDouble = 12
)

// WriteGeoTIFF encodes m as an uncompressed RGB GeoTIFF with the
// ModelPixelScale, ModelTiepoint and geokey directory entries that
// downstream raster consumers (gdal, PDAL colorization) expect. The mosaic's
// CRS must be an EPSG identifier.
func WriteGeoTIFF(w io.Writer, m *Mosaic) error {
	epsg, err := epsgCode(m.CRS)
	if err != nil {
		return err
	}

	width := m.Width()
	height := m.Height()
	pixelData := make([]byte, 3*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := m.At(x, y)
			i := 3 * (y*width + x)
			pixelData[i] = r
			pixelData[i+1] = g
			pixelData[i+2] = b
		}
	}

	geoKeyDirectory := []uint16{
		1, 1, 0, 3,
		geoKeyGTModelType, 0, 1, geoModelTypeProjected,
		geoKeyGTRasterType, 0, 1, geoRasterPixelIsArea,
		geoKeyProjectedCRS, 0, 1, uint16(epsg),
	}

	type entry struct {
		tag       uint16
		fieldType uint16
		count     uint32
		data      []byte
	}

	shorts := func(values ...uint16) []byte {
		data := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[2*i:], v)
		}
		return data
	}
	longs := func(values ...uint32) []byte {
		data := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(data[4*i:], v)
		}
		return data
	}
	doubles := func(values ...float64) []byte {
		data := make([]byte, 8*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
		}
		return data
	}

	// Strip offset and byte count are patched in once the layout is known.
	entries := []entry{
		{tagImageWidth, fieldTypeLong, 1, longs(uint32(width))},
		{tagImageLength, fieldTypeLong, 1, longs(uint32(height))},
		{tagBitsPerSample, fieldTypeShort, 3, shorts(8, 8, 8)},
		{tagCompression, fieldTypeShort, 1, shorts(1)},
		{tagPhotometricInterpretation, fieldTypeShort, 1, shorts(2)},
		{tagStripOffsets, fieldTypeLong, 1, nil},
		{tagSamplesPerPixel, fieldTypeShort, 1, shorts(3)},
		{tagRowsPerStrip, fieldTypeLong, 1, longs(uint32(height))},
		{tagStripByteCounts, fieldTypeLong, 1, longs(uint32(len(pixelData)))},
		{tagPlanarConfiguration, fieldTypeShort, 1, shorts(1)},
		{tagSampleFormat, fieldTypeShort, 3, shorts(1, 1, 1)},
		{tagModelPixelScale, fieldTypeDouble, 3, doubles(m.PixelSizeX, m.PixelSizeY, 0)},
		{tagModelTiepoint, fieldTypeDouble, 6, doubles(0, 0, 0, m.OriginX, m.OriginY, 0)},
		{tagGeoKeyDirectory, fieldTypeShort, uint32(len(geoKeyDirectory)), shorts(geoKeyDirectory...)},
	}

	const headerSize = 8
	ifdSize := 2 + 12*len(entries) + 4
	externalOffset := uint32(headerSize + ifdSize)
	for _, e := range entries {
		if len(e.data) > 4 {
			externalOffset += uint32(len(e.data))
		}
	}
	pixelOffset := externalOffset
	stripOffsetsIndex := 5
	entries[stripOffsetsIndex].data = longs(pixelOffset)

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))

	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	external := bytes.Buffer{}
	externalStart := uint32(headerSize + ifdSize)
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, e.fieldType)
		binary.Write(&buf, binary.LittleEndian, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
		} else {
			binary.Write(&buf, binary.LittleEndian, externalStart+uint32(external.Len()))
			external.Write(e.data)
		}
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // No next IFD.
	buf.Write(external.Bytes())
	buf.Write(pixelData)

	_, err = w.Write(buf.Bytes())
	return err
}

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal
// the IFD of a mosaic GeoTIFF.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             []uint16  `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
}

// ReadGeoTIFF decodes a GeoTIFF previously written by WriteGeoTIFF back into
// a Mosaic. Only uncompressed interleaved RGB rasters are supported.
func ReadGeoTIFF(r tiff.ReadAtReadSeeker) (*Mosaic, error) {
	tiffTIFF, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) != 1 {
		return nil, fmt.Errorf("found %d IFDs, expected 1", len(tiffTIFF.IFDs()))
	}
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if ifd.Compression != 1 ||
		ifd.PhotometricInterpretation != 2 ||
		ifd.SamplesPerPixel != 3 ||
		ifd.PlanarConfiguration != 1 ||
		len(ifd.BitsPerSample) != 3 ||
		ifd.BitsPerSample[0] != 8 || ifd.BitsPerSample[1] != 8 || ifd.BitsPerSample[2] != 8 {
		return nil, errors.ErrUnsupported
	}
	if len(ifd.ModelPixelScaleTag) != 3 || len(ifd.ModelTiepointTag) != 6 {
		return nil, errors.New("missing georeferencing tags")
	}
	if len(ifd.StripOffsets) != len(ifd.StripByteCounts) || len(ifd.StripOffsets) == 0 {
		return nil, errors.New("inconsistent strip layout")
	}

	width := int(ifd.ImageWidth)
	height := int(ifd.ImageLength)
	rowsPerStrip := int(ifd.RowsPerStrip)
	if rowsPerStrip == 0 {
		rowsPerStrip = height
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	row := 0
	for i, stripOffset := range ifd.StripOffsets {
		stripRows := rowsPerStrip
		if row+stripRows > height {
			stripRows = height - row
		}
		expected := 3 * width * stripRows
		if int(ifd.StripByteCounts[i]) != expected {
			return nil, fmt.Errorf("strip %d is %d bytes, expected %d", i, ifd.StripByteCounts[i], expected)
		}
		stripData := make([]byte, expected)
		if _, err := r.ReadAt(stripData, int64(stripOffset)); err != nil {
			return nil, err
		}
		for y := 0; y < stripRows; y++ {
			for x := 0; x < width; x++ {
				src := 3 * (y*width + x)
				dst := canvas.PixOffset(x, row+y)
				canvas.Pix[dst] = stripData[src]
				canvas.Pix[dst+1] = stripData[src+1]
				canvas.Pix[dst+2] = stripData[src+2]
				canvas.Pix[dst+3] = 0xff
			}
		}
		row += stripRows
	}

	crs, err := crsFromGeoKeys(ifd.GeoKeyDirectoryTag)
	if err != nil {
		return nil, err
	}

	return &Mosaic{
		Image:      canvas,
		OriginX:    ifd.ModelTiepointTag[3],
		OriginY:    ifd.ModelTiepointTag[4],
		PixelSizeX: ifd.ModelPixelScaleTag[0],
		PixelSizeY: ifd.ModelPixelScaleTag[1],
		CRS:        crs,
	}, nil
}

// crsFromGeoKeys extracts the projected EPSG code from a geokey directory.
func crsFromGeoKeys(directory []uint16) (string, error) {
	if len(directory) < 4 || directory[0] != 1 {
		return "", errors.New("malformed geokey directory")
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return "", errors.New("malformed geokey directory")
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		if keyValues[0] == geoKeyProjectedCRS && keyValues[1] == 0 && keyValues[2] == 1 {
			return "EPSG:" + strconv.Itoa(int(keyValues[3])), nil
		}
	}
	return "", errors.New("no projected CRS geokey")
}

// epsgCode parses an "EPSG:nnnn" CRS identifier.
func epsgCode(crs string) (int, error) {
	rest, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:")
	if !ok {
		return 0, fmt.Errorf("CRS %q is not an EPSG identifier", crs)
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code <= 0 || code > 65535 {
		return 0, fmt.Errorf("CRS %q is not an EPSG identifier", crs)
	}
	return code, nil
}
