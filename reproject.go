package orthophoto

import (
	"errors"
	"image"
	"math"
)

// maxWarpPixels bounds the size of a warped output raster. One LiDAR tile at
// 20 cm ground resolution stays well below this.
const maxWarpPixels = 10000 * 10000

// Reproject warps m into targetCRS at targetPixelSize ground units per
// pixel, resampling bilinearly to preserve color fidelity. It is the
// identity when m is already in targetCRS. A targetPixelSize of zero keeps
// the source pixel count along the X axis.
//
// The output extent is the axis-aligned box enclosing m's reprojected
// corners, so callers that padded their bounding box before fetching keep
// full coverage at the edges. Failure to transform, or an output with no
// source data at all, is fatal for the current tile and reported as a
// ReprojectionError.
func Reproject(m *Mosaic, targetCRS string, targetPixelSize float64) (*Mosaic, error) {
	if targetCRS == m.CRS {
		return m, nil
	}

	transformer, err := NewTransformer(m.CRS, targetCRS)
	if err != nil {
		return nil, err
	}

	targetBound, err := transformer.ProjectBound(m.Bound())
	if err != nil {
		return nil, &ReprojectionError{SourceCRS: m.CRS, TargetCRS: targetCRS, Bound: m.Bound(), Err: err}
	}

	extentX := targetBound.Max[0] - targetBound.Min[0]
	extentY := targetBound.Max[1] - targetBound.Min[1]
	if targetPixelSize <= 0 {
		targetPixelSize = extentX / float64(m.Width())
	}
	width := int(math.Ceil(extentX / targetPixelSize))
	height := int(math.Ceil(extentY / targetPixelSize))
	if width <= 0 || height <= 0 {
		return nil, &ReprojectionError{
			SourceCRS: m.CRS,
			TargetCRS: targetCRS,
			Bound:     m.Bound(),
			Err:       errors.New("empty output extent"),
		}
	}
	if int64(width)*int64(height) > maxWarpPixels {
		return nil, &ReprojectionError{
			SourceCRS: m.CRS,
			TargetCRS: targetCRS,
			Bound:     m.Bound(),
			Err:       errors.New("output raster too large"),
		}
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	// Inverse mapping: for every target pixel center, find the source pixel
	// it came from. Coordinates are batched one output row at a time through
	// PROJ.
	coordsFlat := make([]float64, 2*width)
	coords := make([][]float64, width)
	for i := range coords {
		coords[i] = coordsFlat[2*i : 2*i+2]
	}

	sampled := 0
	for y := 0; y < height; y++ {
		targetY := targetBound.Max[1] - (float64(y)+0.5)*targetPixelSize
		for x := 0; x < width; x++ {
			coords[x][0] = targetBound.Min[0] + (float64(x)+0.5)*targetPixelSize
			coords[x][1] = targetY
		}
		if err := transformer.InverseSlices(coords); err != nil {
			return nil, &ReprojectionError{SourceCRS: m.CRS, TargetCRS: targetCRS, Bound: m.Bound(), Err: err}
		}
		for x := 0; x < width; x++ {
			// Continuous source pixel coordinates of the sample point.
			sourceX := (coords[x][0]-m.OriginX)/m.PixelSizeX - 0.5
			sourceY := (m.OriginY-coords[x][1])/m.PixelSizeY - 0.5
			if sourceX < -0.5 || sourceX > float64(m.Width())-0.5 ||
				sourceY < -0.5 || sourceY > float64(m.Height())-0.5 {
				continue
			}
			r, g, b := sampleBilinear(m, sourceX, sourceY)
			i := canvas.PixOffset(x, y)
			canvas.Pix[i] = r
			canvas.Pix[i+1] = g
			canvas.Pix[i+2] = b
			canvas.Pix[i+3] = 0xff
			sampled++
		}
	}

	if sampled == 0 {
		return nil, &ReprojectionError{
			SourceCRS: m.CRS,
			TargetCRS: targetCRS,
			Bound:     m.Bound(),
			Err:       errors.New("no source pixels map into the output"),
		}
	}

	return &Mosaic{
		Image:      canvas,
		OriginX:    targetBound.Min[0],
		OriginY:    targetBound.Max[1],
		PixelSizeX: targetPixelSize,
		PixelSizeY: targetPixelSize,
		CRS:        targetCRS,
	}, nil
}

// sampleBilinear interpolates m's color at the continuous pixel coordinate
// x, y, clamping the four neighbors to the image.
func sampleBilinear(m *Mosaic, x, y float64) (uint8, uint8, uint8) {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	dx := x - float64(x0)
	dy := y - float64(y0)

	clampX := func(v int) int { return clamp(v, 0, m.Width()-1) }
	clampY := func(v int) int { return clamp(v, 0, m.Height()-1) }

	r00, g00, b00 := m.At(clampX(x0), clampY(y0))
	r10, g10, b10 := m.At(clampX(x0+1), clampY(y0))
	r01, g01, b01 := m.At(clampX(x0), clampY(y0+1))
	r11, g11, b11 := m.At(clampX(x0+1), clampY(y0+1))

	lerp := func(s00, s10, s01, s11 uint8) uint8 {
		v := float64(s00)*(1-dx)*(1-dy) +
			float64(s10)*dx*(1-dy) +
			float64(s01)*(1-dx)*dy +
			float64(s11)*dx*dy
		return uint8(v + 0.5)
	}
	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11)
}
