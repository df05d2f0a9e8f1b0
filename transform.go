package orthophoto

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v11"
)

// A Transformer converts coordinates between two coordinate reference
// systems. It is safe for concurrent use.
//
// Coordinates are easting/northing ordered, which matches the projected CRSs
// used for both imagery (e.g. EPSG:3857) and national LiDAR distributions
// (e.g. EPSG:2154).
type Transformer struct {
	sourceCRS string
	targetCRS string
	mutex     sync.Mutex
	pj        *proj.PJ
}

// NewTransformer returns a Transformer from sourceCRS to targetCRS. It fails
// with an UnknownProjectionError if either CRS identifier is not resolvable.
func NewTransformer(sourceCRS, targetCRS string) (*Transformer, error) {
	pj, err := proj.NewCRSToCRS(sourceCRS, targetCRS, nil)
	if err != nil {
		// Resolve each CRS separately to name the offending one.
		for _, crs := range []string{sourceCRS, targetCRS} {
			if _, crsErr := proj.New(crs); crsErr != nil {
				return nil, &UnknownProjectionError{CRS: crs, Err: crsErr}
			}
		}
		return nil, &UnknownProjectionError{CRS: sourceCRS + " -> " + targetCRS, Err: err}
	}
	return &Transformer{
		sourceCRS: sourceCRS,
		targetCRS: targetCRS,
		pj:        pj,
	}, nil
}

// SourceCRS returns the CRS t transforms from.
func (t *Transformer) SourceCRS() string {
	return t.sourceCRS
}

// TargetCRS returns the CRS t transforms to.
func (t *Transformer) TargetCRS() string {
	return t.targetCRS
}

// Project converts point from the source CRS to the target CRS.
func (t *Transformer) Project(point orb.Point) (orb.Point, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	coord, err := t.pj.Forward(proj.NewCoord(point[0], point[1], 0, 0))
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{coord.X(), coord.Y()}, nil
}

// Inverse converts point from the target CRS back to the source CRS.
func (t *Transformer) Inverse(point orb.Point) (orb.Point, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	coord, err := t.pj.Inverse(proj.NewCoord(point[0], point[1], 0, 0))
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{coord.X(), coord.Y()}, nil
}

// ProjectBound projects all four corners of bound and returns the enclosing
// axis-aligned box. The result may be larger than the true transformed shape
// when the transform is not affine, which guarantees full coverage.
func (t *Transformer) ProjectBound(bound orb.Bound) (orb.Bound, error) {
	corners := [][]float64{
		{bound.Min[0], bound.Min[1]},
		{bound.Max[0], bound.Min[1]},
		{bound.Min[0], bound.Max[1]},
		{bound.Max[0], bound.Max[1]},
	}
	if err := t.ForwardSlices(corners); err != nil {
		return orb.Bound{}, err
	}
	projected := orb.Bound{
		Min: orb.Point{corners[0][0], corners[0][1]},
		Max: orb.Point{corners[0][0], corners[0][1]},
	}
	for _, corner := range corners[1:] {
		projected = projected.Extend(orb.Point{corner[0], corner[1]})
	}
	return projected, nil
}

// ForwardSlices transforms coords in place from the source CRS to the target
// CRS. Each coordinate is an x, y pair optionally followed by z and m.
func (t *Transformer) ForwardSlices(coords [][]float64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.pj.ForwardFloat64Slices(coords)
}

// InverseSlices transforms coords in place from the target CRS back to the
// source CRS.
func (t *Transformer) InverseSlices(coords [][]float64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.pj.InverseFloat64Slices(coords)
}
