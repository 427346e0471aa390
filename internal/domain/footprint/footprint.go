// Package footprint turns a coarse maximum-flow-height raster into the binary
// mask of cells that carried significant flow, and grows that mask by a
// safety margin before it is used to clip the fine domain.
//
// Masks hold 1 for marked cells and the grid's nodata value everywhere else.
// Zero is never written, so extent computations treat unmarked cells as absent.
package footprint

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/runout/internal/domain/raster"
)

// Marked is the value of a flow cell in a mask.
const Marked = 1.0

// Extract marks every cell whose height is strictly greater than threshold.
// Nodata cells are never marked. It returns the mask and the marked count.
func Extract(heights *raster.Grid, threshold float64) (*raster.Grid, int, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	mask, err := newMask(heights)
	if err != nil {
		return nil, 0, err
	}
	marked := 0
	for r := 0; r < heights.Rows(); r++ {
		for c := 0; c < heights.Cols(); c++ {
			if !heights.Valid(r, c) {
				continue
			}
			if heights.At(r, c) > threshold {
				mask.Set(r, c, Marked)
				marked++
			}
		}
	}
	return mask, marked, nil
}

// newMask allocates an empty mask over g's geometry. A source sentinel of 0
// or 1 would collide with mask semantics, so DefaultNoData replaces it.
func newMask(g *raster.Grid) (*raster.Grid, error) {
	noData := g.NoData()
	if noData == 0 || noData == Marked {
		noData = raster.DefaultNoData
	}
	return raster.New(g.Origin(), g.CellSize(), g.Rows(), g.Cols(), noData)
}

// IsMarked reports whether cell (r, c) of mask is part of the footprint.
func IsMarked(mask *raster.Grid, r, c int) bool {
	return mask.Valid(r, c) && mask.At(r, c) == Marked
}

// Metric selects the neighbourhood shape used by Dilate.
type Metric int

const (
	// Euclidean grows a disc: offsets with di²+dj² <= r².
	Euclidean Metric = iota
	// Chebyshev grows a square: offsets with max(|di|,|dj|) <= r.
	Chebyshev
)

func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Chebyshev:
		return "chebyshev"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric accepts "euclidean" (or "") and "chebyshev".
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "euclidean":
		return Euclidean, nil
	case "chebyshev", "square":
		return Chebyshev, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// offsets lists the (dr, dc) pairs within radius under metric m.
func (m Metric) offsets(radius int) ([][2]int, error) {
	if m != Euclidean && m != Chebyshev {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetric, int(m))
	}
	out := make([][2]int, 0, (2*radius+1)*(2*radius+1))
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if m == Euclidean && dr*dr+dc*dc > radius*radius {
				continue
			}
			out = append(out, [2]int{dr, dc})
		}
	}
	return out, nil
}

// Dilate returns a new mask in which every cell within radius cells of a
// marked cell is marked. Growth stops at the grid edge. radius 0 returns a
// copy of mask; an empty mask yields an empty mask.
func Dilate(mask *raster.Grid, radius int, metric Metric) (*raster.Grid, int, error) {
	if radius < 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidRadius, radius)
	}
	offsets, err := metric.offsets(radius)
	if err != nil {
		return nil, 0, err
	}

	out, err := newMask(mask)
	if err != nil {
		return nil, 0, err
	}
	marked := 0
	rows, cols := mask.Rows(), mask.Cols()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if !IsMarked(mask, r, c) {
				continue
			}
			for _, o := range offsets {
				rr, cc := r+o[0], c+o[1]
				if rr < 0 || cc < 0 || rr >= rows || cc >= cols || IsMarked(out, rr, cc) {
					continue
				}
				out.Set(rr, cc, Marked)
				marked++
			}
		}
	}
	return out, marked, nil
}
