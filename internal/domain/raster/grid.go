// Package raster holds the grid type shared by every pipeline stage and the
// ESRI ASCII codec used to exchange grids with the external engines.
//
// Row 0 is the northern row. Cell (r, c) covers
//
//	x in [ox + c*cs, ox + (c+1)*cs]
//	y in [oy + (rows-1-r)*cs, oy + (rows-r)*cs]
//
// where (ox, oy) is the lower-left corner of the grid.
package raster

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/mat"
)

// DefaultNoData is the sentinel used when a file does not declare one.
const DefaultNoData = -9999.0

// Grid is a dense, axis-aligned raster. A Grid owns its cells; operations
// that derive a new grid never share storage with their input.
type Grid struct {
	origin   geom.Point
	cellSize float64
	noData   float64
	cells    *mat.Dense
}

// New allocates a rows x cols grid with every cell set to noData.
func New(origin geom.Point, cellSize float64, rows, cols int, noData float64) (*Grid, error) {
	switch {
	case rows <= 0 || cols <= 0:
		return nil, fmt.Errorf("%w: %dx%d cells", ErrInvalidGrid, rows, cols)
	case !(cellSize > 0) || math.IsInf(cellSize, 0):
		return nil, fmt.Errorf("%w: cell size %g", ErrInvalidGrid, cellSize)
	case math.IsInf(origin.X, 0) || math.IsInf(origin.Y, 0) || math.IsNaN(origin.X) || math.IsNaN(origin.Y):
		return nil, fmt.Errorf("%w: origin %v", ErrInvalidGrid, origin)
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = noData
	}
	return &Grid{
		origin:   origin,
		cellSize: cellSize,
		noData:   noData,
		cells:    mat.NewDense(rows, cols, data),
	}, nil
}

// FromRows builds a grid from row-major values (row 0 = north). Non-finite
// values are stored as noData.
func FromRows(origin geom.Point, cellSize, noData float64, rows [][]float64) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidGrid)
	}
	g, err := New(origin, cellSize, len(rows), len(rows[0]), noData)
	if err != nil {
		return nil, err
	}
	for r, row := range rows {
		if len(row) != g.Cols() {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrInvalidGrid, r, len(row), g.Cols())
		}
		for c, v := range row {
			g.Set(r, c, v)
		}
	}
	return g, nil
}

func (g *Grid) Rows() int {
	r, _ := g.cells.Dims()
	return r
}

func (g *Grid) Cols() int {
	_, c := g.cells.Dims()
	return c
}

func (g *Grid) Origin() geom.Point { return g.origin }
func (g *Grid) CellSize() float64  { return g.cellSize }
func (g *Grid) NoData() float64    { return g.noData }

// At returns the value of cell (r, c).
func (g *Grid) At(r, c int) float64 { return g.cells.At(r, c) }

// Set stores v in cell (r, c). Non-finite values become noData.
func (g *Grid) Set(r, c int, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = g.noData
	}
	g.cells.Set(r, c, v)
}

// IsNoData reports whether v is this grid's sentinel.
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(g.noData) {
		return math.IsNaN(v)
	}
	return v == g.noData
}

// Valid reports whether cell (r, c) holds data.
func (g *Grid) Valid(r, c int) bool { return !g.IsNoData(g.At(r, c)) }

// Extent returns the outer bounds of the grid.
func (g *Grid) Extent() Extent {
	return NewExtent(
		g.origin.X,
		g.origin.Y,
		g.origin.X+float64(g.Cols())*g.cellSize,
		g.origin.Y+float64(g.Rows())*g.cellSize,
	)
}

// CellExtent returns the bounds of cell (r, c).
func (g *Grid) CellExtent(r, c int) Extent {
	minX := g.origin.X + float64(c)*g.cellSize
	minY := g.origin.Y + float64(g.Rows()-1-r)*g.cellSize
	return NewExtent(minX, minY, minX+g.cellSize, minY+g.cellSize)
}

// CellCenter returns the map coordinates of the centre of cell (r, c).
func (g *Grid) CellCenter(r, c int) (x, y float64) {
	e := g.CellExtent(r, c)
	return e.Min.X + g.cellSize/2, e.Min.Y + g.cellSize/2
}

// Index returns the cell containing (x, y). Points on the eastern or
// southern edge of a cell belong to the neighbouring cell.
func (g *Grid) Index(x, y float64) (r, c int, ok bool) {
	col := math.Floor((x - g.origin.X) / g.cellSize)
	rowFromSouth := math.Floor((y - g.origin.Y) / g.cellSize)
	r = g.Rows() - 1 - int(rowFromSouth)
	c = int(col)
	if col < 0 || rowFromSouth < 0 || r < 0 || c >= g.Cols() {
		return 0, 0, false
	}
	return r, c, true
}

// Like returns a grid with the same geometry and every cell set to noData.
func (g *Grid) Like() *Grid {
	out, _ := New(g.origin, g.cellSize, g.Rows(), g.Cols(), g.noData)
	return out
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	return &Grid{
		origin:   g.origin,
		cellSize: g.cellSize,
		noData:   g.noData,
		cells:    mat.DenseCopyOf(g.cells),
	}
}

// CountValid returns the number of cells holding data.
func (g *Grid) CountValid() int {
	n := 0
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			if g.Valid(r, c) {
				n++
			}
		}
	}
	return n
}

// ValidBounds returns the smallest row/column window holding every valid
// cell. ok is false when the grid holds no data.
func (g *Grid) ValidBounds() (r0, c0, r1, c1 int, ok bool) {
	r0, c0, r1, c1 = g.Rows(), g.Cols(), -1, -1
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			if !g.Valid(r, c) {
				continue
			}
			r0, c0 = min(r0, r), min(c0, c)
			r1, c1 = max(r1, r), max(c1, c)
		}
	}
	if r1 < 0 {
		return 0, 0, 0, 0, false
	}
	return r0, c0, r1, c1, true
}

// WindowExtent returns the bounds of the inclusive cell window.
func (g *Grid) WindowExtent(r0, c0, r1, c1 int) Extent {
	nw := g.CellExtent(r0, c0)
	se := g.CellExtent(r1, c1)
	return NewExtent(nw.Min.X, se.Min.Y, se.Max.X, nw.Max.Y)
}

// Crop copies the inclusive window (r0, c0)-(r1, c1) into a new grid.
func (g *Grid) Crop(r0, c0, r1, c1 int) (*Grid, error) {
	if r0 < 0 || c0 < 0 || r1 >= g.Rows() || c1 >= g.Cols() || r0 > r1 || c0 > c1 {
		return nil, fmt.Errorf("%w: window (%d,%d)-(%d,%d) on %dx%d grid",
			ErrOutOfBounds, r0, c0, r1, c1, g.Rows(), g.Cols())
	}
	window := g.WindowExtent(r0, c0, r1, c1)
	view := g.cells.Slice(r0, r1+1, c0, c1+1)
	return &Grid{
		origin:   geom.Point{X: window.Min.X, Y: window.Min.Y},
		cellSize: g.cellSize,
		noData:   g.noData,
		cells:    mat.DenseCopyOf(view),
	}, nil
}

// Window crops g to the cells overlapping e. ErrOutOfBounds is returned when
// e misses the grid entirely.
func (g *Grid) Window(e Extent) (*Grid, error) {
	r0, c0, r1, c1, ok := overlap(g.origin, g.cellSize, g.Rows(), g.Cols(), e)
	if !ok {
		return nil, fmt.Errorf("%w: window %s outside grid %s", ErrOutOfBounds, e, g.Extent())
	}
	return g.Crop(r0, c0, r1, c1)
}

// overlap returns the inclusive cell window of a rows x cols lattice that
// shares area with e.
func overlap(origin geom.Point, cs float64, rows, cols int, e Extent) (r0, c0, r1, c1 int, ok bool) {
	c0 = max(int(math.Floor((e.Min.X-origin.X)/cs+alignTolerance)), 0)
	c1 = min(int(math.Ceil((e.Max.X-origin.X)/cs-alignTolerance))-1, cols-1)
	s0 := max(int(math.Floor((e.Min.Y-origin.Y)/cs+alignTolerance)), 0)
	s1 := min(int(math.Ceil((e.Max.Y-origin.Y)/cs-alignTolerance))-1, rows-1)
	if c0 > c1 || s0 > s1 {
		return 0, 0, 0, 0, false
	}
	return rows - 1 - s1, c0, rows - 1 - s0, c1, true
}
