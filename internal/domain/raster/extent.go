package raster

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

// alignTolerance is the fraction of a cell below which a coordinate is
// considered to already sit on a grid line.
const alignTolerance = 1e-9

// Extent is an axis-aligned rectangle in map units.
type Extent struct {
	geom.Bounds
}

// NewExtent builds an extent from its corner coordinates.
func NewExtent(minX, minY, maxX, maxY float64) Extent {
	return Extent{Bounds: geom.Bounds{
		Min: geom.Point{X: minX, Y: minY},
		Max: geom.Point{X: maxX, Y: maxY},
	}}
}

// Width returns the east-west size.
func (e Extent) Width() float64 { return e.Max.X - e.Min.X }

// Height returns the north-south size.
func (e Extent) Height() float64 { return e.Max.Y - e.Min.Y }

// Empty reports whether the extent has no area.
func (e Extent) Empty() bool {
	return !(e.Width() > 0 && e.Height() > 0)
}

// Contains reports whether o lies inside e, allowing tol map units of slack.
func (e Extent) Contains(o Extent, tol float64) bool {
	return o.Min.X >= e.Min.X-tol && o.Min.Y >= e.Min.Y-tol &&
		o.Max.X <= e.Max.X+tol && o.Max.Y <= e.Max.Y+tol
}

// Equal compares two extents with tol map units of slack.
func (e Extent) Equal(o Extent, tol float64) bool {
	return math.Abs(e.Min.X-o.Min.X) <= tol && math.Abs(e.Min.Y-o.Min.Y) <= tol &&
		math.Abs(e.Max.X-o.Max.X) <= tol && math.Abs(e.Max.Y-o.Max.Y) <= tol
}

// AlignOutward snaps every edge away from the centre onto the lattice
// anchor + k*res. The result always contains e.
func (e Extent) AlignOutward(anchor geom.Point, res float64) Extent {
	return NewExtent(
		snap(e.Min.X, anchor.X, res, math.Floor),
		snap(e.Min.Y, anchor.Y, res, math.Floor),
		snap(e.Max.X, anchor.X, res, math.Ceil),
		snap(e.Max.Y, anchor.Y, res, math.Ceil),
	)
}

// IsAligned reports whether every edge sits on the lattice anchor + k*res.
func (e Extent) IsAligned(anchor geom.Point, res float64) bool {
	on := func(v, a float64) bool {
		k := (v - a) / res
		return math.Abs(k-math.Round(k)) <= alignTolerance*math.Max(1, math.Abs(k))
	}
	return on(e.Min.X, anchor.X) && on(e.Max.X, anchor.X) &&
		on(e.Min.Y, anchor.Y) && on(e.Max.Y, anchor.Y)
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g %g, %g %g]", e.Min.X, e.Min.Y, e.Max.X, e.Max.Y)
}

// snap moves v onto the lattice a + k*res using round (floor or ceil).
// Values within alignTolerance of a lattice line are left on that line.
func snap(v, a, res float64, round func(float64) float64) float64 {
	k := (v - a) / res
	if nearest := math.Round(k); math.Abs(k-nearest) <= alignTolerance*math.Max(1, math.Abs(k)) {
		return a + nearest*res
	}
	return a + round(k)*res
}
