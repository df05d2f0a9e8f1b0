package orthophoto

import (
	"fmt"

	"github.com/paulmach/orb"
)

// An UnknownProjectionError indicates that a CRS identifier could not be
// resolved by PROJ.
type UnknownProjectionError struct {
	CRS string
	Err error
}

func (e *UnknownProjectionError) Error() string {
	return fmt.Sprintf("unknown projection %s: %v", e.CRS, e.Err)
}

func (e *UnknownProjectionError) Unwrap() error {
	return e.Err
}

// An InvalidZoomError indicates a zoom level outside the valid range for a
// tile matrix or layer.
type InvalidZoomError struct {
	Zoom    int
	MaxZoom int
}

func (e *InvalidZoomError) Error() string {
	if e.MaxZoom > 0 {
		return fmt.Sprintf("invalid zoom level %d, expected 0..%d", e.Zoom, e.MaxZoom)
	}
	return fmt.Sprintf("invalid zoom level %d", e.Zoom)
}

// A FetchExhaustedError indicates that a remote fetch failed after all retry
// attempts.
type FetchExhaustedError struct {
	Layer    string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("layer %s: fetch of %s failed after %d attempts: %v", e.Layer, e.URL, e.Attempts, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Err
}

// An IncompleteMosaicError indicates that a grid tile required by a coverage
// was missing or could not be decoded. A partial mosaic is never returned.
type IncompleteMosaicError struct {
	Address GridAddress
	Err     error
}

func (e *IncompleteMosaicError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("incomplete mosaic: tile %d/%d/%d: %v", e.Address.Zoom, e.Address.Col, e.Address.Row, e.Err)
	}
	return fmt.Sprintf("incomplete mosaic: missing tile %d/%d/%d", e.Address.Zoom, e.Address.Col, e.Address.Row)
}

func (e *IncompleteMosaicError) Unwrap() error {
	return e.Err
}

// A ReprojectionError indicates that warping a mosaic into the target CRS
// failed or produced an empty result. It is fatal for the current tile and
// never retried.
type ReprojectionError struct {
	SourceCRS string
	TargetCRS string
	Bound     orb.Bound
	Err       error
}

func (e *ReprojectionError) Error() string {
	return fmt.Sprintf("reprojection %s -> %s of %v failed: %v", e.SourceCRS, e.TargetCRS, e.Bound, e.Err)
}

func (e *ReprojectionError) Unwrap() error {
	return e.Err
}
