package clip_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ctessum/geom"
	"github.com/okian/runout/internal/domain/clip"
	"github.com/okian/runout/internal/domain/footprint"
	"github.com/okian/runout/internal/domain/raster"
	. "github.com/smartystreets/goconvey/convey"
)

const nd = raster.DefaultNoData

func coarseMask(cells ...[2]int) *raster.Grid {
	m, err := raster.New(geom.Point{X: 0, Y: 0}, 10, 10, 10, nd)
	if err != nil {
		panic(err)
	}
	for _, rc := range cells {
		m.Set(rc[0], rc[1], footprint.Marked)
	}
	return m
}

// fineDEM covers (0,0)-(size,size) with elevation 1000 + x + y at the cell centre.
func fineDEM(size, res float64) *raster.Grid {
	n := int(size / res)
	g, err := raster.New(geom.Point{X: 0, Y: 0}, res, n, n, nd)
	if err != nil {
		panic(err)
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			x, y := g.CellCenter(r, c)
			g.Set(r, c, 1000+x+y)
		}
	}
	return g
}

func TestClipNested(t *testing.T) {
	Convey("Given a 2x2 block footprint on a 10 m mask and a 2 m DEM", t, func() {
		mask := coarseMask([2]int{4, 3}, [2]int{4, 4}, [2]int{5, 3}, [2]int{5, 4})
		dem := fineDEM(100, 2)
		region := clip.NewWorkingRegion()
		clipper := clip.NewClipper(region)

		Convey("When clipping at 2 m", func() {
			res, err := clipper.Clip(context.Background(), mask, dem, 2)
			So(err, ShouldBeNil)

			Convey("Then the extent is exactly the footprint box", func() {
				want := raster.NewExtent(30, 40, 50, 60)
				So(res.MaskBounds.Equal(want, 1e-9), ShouldBeTrue)
				So(res.Aligned.Equal(want, 1e-9), ShouldBeTrue)
				So(res.Extent.Equal(want, 1e-9), ShouldBeTrue)
			})

			Convey("Then only the footprint is allocated at fine resolution", func() {
				So(res.DEM.Rows(), ShouldEqual, 10)
				So(res.DEM.Cols(), ShouldEqual, 10)
				So(res.Cells, ShouldEqual, 100)
				So(res.DEM.CountValid(), ShouldEqual, 100)
			})

			Convey("Then elevations are the DEM values at the same location", func() {
				x, y := res.DEM.CellCenter(0, 0)
				So(res.DEM.At(0, 0), ShouldEqual, 1000+x+y)
			})

			Convey("Then the region ends on the tight extent", func() {
				e, r, ok := region.Current()
				So(ok, ShouldBeTrue)
				So(r, ShouldEqual, 2.0)
				So(e.Equal(res.Extent, 0), ShouldBeTrue)
				So(region.Writes(), ShouldEqual, 2)
			})
		})
	})
}

func TestClipSparseFootprint(t *testing.T) {
	Convey("Given two diagonal footprint cells and a 3 m target resolution", t, func() {
		mask := coarseMask([2]int{2, 2}, [2]int{7, 6})
		dem := fineDEM(120, 3)
		clipper := clip.NewClipper(clip.NewWorkingRegion())

		res, err := clipper.Clip(context.Background(), mask, dem, 3)
		So(err, ShouldBeNil)

		Convey("Then the extent contains the footprint box and sits on the 3 m lattice", func() {
			So(res.Extent.Contains(res.MaskBounds, 1e-9), ShouldBeTrue)
			So(res.Aligned.Contains(res.Extent, 1e-9), ShouldBeTrue)
			So(res.Extent.IsAligned(mask.Origin(), 3), ShouldBeTrue)
			So(res.Aligned.IsAligned(mask.Origin(), 3), ShouldBeTrue)
		})

		Convey("Then cells between the two footprint cells are nodata", func() {
			So(res.DEM.CountValid(), ShouldEqual, res.Cells)
			So(res.Cells, ShouldBeLessThan, res.DEM.Rows()*res.DEM.Cols())
			r, c, ok := res.DEM.Index(45, 45)
			So(ok, ShouldBeTrue)
			So(res.DEM.Valid(r, c), ShouldBeFalse)
		})

		Convey("Then every kept fine cell overlaps a marked coarse cell", func() {
			for r := 0; r < res.DEM.Rows(); r++ {
				for c := 0; c < res.DEM.Cols(); c++ {
					if !res.DEM.Valid(r, c) {
						continue
					}
					x, y := res.DEM.CellCenter(r, c)
					mr, mc, ok := mask.Index(x, y)
					e := res.DEM.CellExtent(r, c)
					hit := ok && footprint.IsMarked(mask, mr, mc)
					for _, p := range [][2]float64{{e.Min.X + 1e-6, e.Min.Y + 1e-6}, {e.Max.X - 1e-6, e.Max.Y - 1e-6}, {e.Min.X + 1e-6, e.Max.Y - 1e-6}, {e.Max.X - 1e-6, e.Min.Y + 1e-6}} {
						if pr, pc, ok := mask.Index(p[0], p[1]); ok && footprint.IsMarked(mask, pr, pc) {
							hit = true
						}
					}
					So(hit, ShouldBeTrue)
				}
			}
		})
	})
}

func TestClipErrors(t *testing.T) {
	Convey("Given a footprint reaching x = 50", t, func() {
		mask := coarseMask([2]int{4, 4})
		region := clip.NewWorkingRegion()
		clipper := clip.NewClipper(region)

		Convey("When the DEM stops at x = 40", func() {
			dem, err := raster.New(geom.Point{X: 0, Y: 0}, 2, 50, 20, nd)
			So(err, ShouldBeNil)
			_, err = clipper.Clip(context.Background(), mask, dem, 2)

			Convey("Then the clip fails with a coverage gap", func() {
				So(errors.Is(err, clip.ErrCoverageGap), ShouldBeTrue)
			})
		})

		Convey("When the DEM has a hole inside the footprint", func() {
			dem := fineDEM(100, 2)
			r, c, ok := dem.Index(45, 55)
			So(ok, ShouldBeTrue)
			dem.Set(r, c, nd)
			_, err := clipper.Clip(context.Background(), mask, dem, 2)
			So(errors.Is(err, clip.ErrCoverageGap), ShouldBeTrue)
		})

		Convey("When the DEM has a hole outside the footprint", func() {
			dem := fineDEM(100, 2)
			dem.Set(0, 0, nd)
			_, err := clipper.Clip(context.Background(), mask, dem, 2)
			So(err, ShouldBeNil)
		})

		Convey("When the resolution is not positive", func() {
			_, err := clipper.Clip(context.Background(), mask, fineDEM(100, 2), 0)
			So(errors.Is(err, clip.ErrInvalidResolution), ShouldBeTrue)
		})

		Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := clipper.Clip(ctx, mask, fineDEM(100, 2), 2)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})

	Convey("Given an empty mask", t, func() {
		region := clip.NewWorkingRegion()
		_, err := clip.NewClipper(region).Clip(context.Background(), coarseMask(), fineDEM(100, 2), 2)

		Convey("Then the clip reports an empty footprint and never touches the region", func() {
			So(errors.Is(err, clip.ErrFootprintEmpty), ShouldBeTrue)
			So(region.Writes(), ShouldEqual, 0)
			_, _, ok := region.Current()
			So(ok, ShouldBeFalse)
		})
	})
}

func TestWorkingRegion(t *testing.T) {
	Convey("Given a working region", t, func() {
		region := clip.NewWorkingRegion()
		e := raster.NewExtent(0, 0, 10, 10)

		Convey("Then setting the same extent twice is idempotent", func() {
			So(region.Set(context.Background(), e, 1), ShouldBeNil)
			first, _, _ := region.Current()
			So(region.Set(context.Background(), e, 1), ShouldBeNil)
			second, res, _ := region.Current()
			So(first.Equal(second, 0), ShouldBeTrue)
			So(res, ShouldEqual, 1.0)
		})

		Convey("Then empty extents are rejected", func() {
			err := region.Set(context.Background(), raster.NewExtent(0, 0, 0, 10), 1)
			So(errors.Is(err, clip.ErrInvalidRegion), ShouldBeTrue)
		})
	})
}
