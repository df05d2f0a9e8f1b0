package orthophoto

import (
	"fmt"
	"io"
)

// WriteWorldFile writes the six-line ESRI world file describing m's
// geotransform: pixel size, rotation terms, and the center of the upper-left
// pixel. It is the sidecar georeferencing for PNG output.
func (m *Mosaic) WriteWorldFile(w io.Writer) error {
	for _, value := range []float64{
		m.PixelSizeX,
		0,
		0,
		-m.PixelSizeY,
		m.OriginX + m.PixelSizeX/2,
		m.OriginY - m.PixelSizeY/2,
	} {
		if _, err := fmt.Fprintf(w, "%24.10f\n", value); err != nil {
			return err
		}
	}
	return nil
}
