// Package clip cuts the fine-resolution DEM down to the coarse footprint.
//
// The clipper only ever allocates the aligned footprint window at the fine
// resolution; the full-extent DEM is sampled, never copied.
package clip

import (
	"context"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/okian/runout/internal/domain/footprint"
	"github.com/okian/runout/internal/domain/raster"
)

// snapTolerance is the fraction of a cell treated as rounding noise.
const snapTolerance = 1e-9

// Result is the outcome of a clip. Extents are values owned by the caller.
type Result struct {
	// DEM is the clipped fine DEM cropped to Extent.
	DEM *raster.Grid
	// Extent is the tight bounding box of the kept cells.
	Extent raster.Extent
	// Aligned is the mask bounding box snapped outward to the fine lattice.
	Aligned raster.Extent
	// MaskBounds is the bounding box of the marked coarse cells.
	MaskBounds raster.Extent
	// Cells is the number of fine cells kept by the stencil.
	Cells int
}

// Clipper applies a footprint mask to a fine DEM under a working region.
type Clipper struct {
	region Region
}

// NewClipper returns a Clipper that records its extents in region.
func NewClipper(region Region) *Clipper {
	return &Clipper{region: region}
}

// Clip computes the footprint window of mask, aligns it outward to res on a
// lattice anchored at the mask origin, samples dem into that window and
// blanks every fine cell that does not overlap a marked mask cell. The
// result is cropped to the tight box of kept cells and the region is left
// set to it.
func (c *Clipper) Clip(ctx context.Context, mask, dem *raster.Grid, res float64) (Result, error) {
	bounds, aligned, err := Window(mask, res)
	if err != nil {
		return Result{}, err
	}

	if err := c.region.Set(ctx, aligned, res); err != nil {
		return Result{}, fmt.Errorf("set region: %w", err)
	}
	if !dem.Extent().Contains(aligned, snapTolerance*res) {
		return Result{}, fmt.Errorf("%w: DEM %s, needed %s", ErrCoverageGap, dem.Extent(), aligned)
	}

	rows := int(math.Round(aligned.Height() / res))
	cols := int(math.Round(aligned.Width() / res))
	window, err := raster.New(geom.Point{X: aligned.Min.X, Y: aligned.Min.Y}, res, rows, cols, dem.NoData())
	if err != nil {
		return Result{}, err
	}

	kept := 0
	for r := 0; r < rows; r++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for col := 0; col < cols; col++ {
			cell := window.CellExtent(r, col)
			if !overlapsMarked(mask, cell) {
				continue
			}
			x, y := window.CellCenter(r, col)
			dr, dc, inside := dem.Index(x, y)
			if !inside || !dem.Valid(dr, dc) {
				return Result{}, fmt.Errorf("%w: no elevation at (%g, %g)", ErrCoverageGap, x, y)
			}
			window.Set(r, col, dem.At(dr, dc))
			kept++
		}
	}

	tr0, tc0, tr1, tc1, ok := window.ValidBounds()
	if !ok {
		return Result{}, fmt.Errorf("%w: stencil kept no cells", ErrFootprintEmpty)
	}
	clipped, err := window.Crop(tr0, tc0, tr1, tc1)
	if err != nil {
		return Result{}, err
	}
	tight := clipped.Extent()
	if err := c.region.Set(ctx, tight, res); err != nil {
		return Result{}, fmt.Errorf("restore region: %w", err)
	}

	return Result{
		DEM:        clipped,
		Extent:     tight,
		Aligned:    aligned,
		MaskBounds: bounds,
		Cells:      kept,
	}, nil
}

// Window returns the bounding box of the marked cells of mask and that box
// snapped outward to a res lattice anchored at the mask origin. Callers use
// the aligned box to load only the needed part of the fine DEM.
func Window(mask *raster.Grid, res float64) (bounds, aligned raster.Extent, err error) {
	if !(res > 0) || math.IsInf(res, 0) {
		return raster.Extent{}, raster.Extent{}, fmt.Errorf("%w: %v", ErrInvalidResolution, res)
	}
	r0, c0, r1, c1, ok := markedBounds(mask)
	if !ok {
		return raster.Extent{}, raster.Extent{}, fmt.Errorf("%w: mask has no marked cells", ErrFootprintEmpty)
	}
	bounds = mask.WindowExtent(r0, c0, r1, c1)
	return bounds, bounds.AlignOutward(mask.Origin(), res), nil
}

// markedBounds is the inclusive row/column window of marked cells.
func markedBounds(mask *raster.Grid) (r0, c0, r1, c1 int, ok bool) {
	r0, c0, r1, c1 = mask.Rows(), mask.Cols(), -1, -1
	for r := 0; r < mask.Rows(); r++ {
		for c := 0; c < mask.Cols(); c++ {
			if !footprint.IsMarked(mask, r, c) {
				continue
			}
			r0, c0 = min(r0, r), min(c0, c)
			r1, c1 = max(r1, r), max(c1, c)
		}
	}
	return r0, c0, r1, c1, r1 >= 0
}

// overlapsMarked reports whether cell shares area with any marked mask cell.
func overlapsMarked(mask *raster.Grid, cell raster.Extent) bool {
	cs := mask.CellSize()
	o := mask.Origin()
	eps := snapTolerance
	colMin := int(math.Floor((cell.Min.X-o.X)/cs + eps))
	colMax := int(math.Ceil((cell.Max.X-o.X)/cs-eps)) - 1
	southMin := int(math.Floor((cell.Min.Y-o.Y)/cs + eps))
	southMax := int(math.Ceil((cell.Max.Y-o.Y)/cs-eps)) - 1

	colMin, colMax = max(colMin, 0), min(colMax, mask.Cols()-1)
	southMin, southMax = max(southMin, 0), min(southMax, mask.Rows()-1)
	for s := southMin; s <= southMax; s++ {
		r := mask.Rows() - 1 - s
		for c := colMin; c <= colMax; c++ {
			if footprint.IsMarked(mask, r, c) {
				return true
			}
		}
	}
	return false
}
