package clip

import (
	"context"
	"fmt"

	"github.com/okian/runout/internal/domain/raster"
)

// Region is the working-region capability raster operations run under.
// Implementations must be idempotent: setting the same extent twice leaves
// the same region.
type Region interface {
	Set(ctx context.Context, e raster.Extent, res float64) error
	Current() (raster.Extent, float64, bool)
}

// WorkingRegion is an in-process Region. Each workflow instance owns one;
// it is not safe for concurrent use.
type WorkingRegion struct {
	extent raster.Extent
	res    float64
	set    bool
	writes int
}

// NewWorkingRegion returns an unset region.
func NewWorkingRegion() *WorkingRegion {
	return &WorkingRegion{}
}

// Set replaces the active extent and resolution.
func (w *WorkingRegion) Set(ctx context.Context, e raster.Extent, res float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Empty() {
		return fmt.Errorf("%w: empty extent %s", ErrInvalidRegion, e)
	}
	if !(res > 0) {
		return fmt.Errorf("%w: resolution %v", ErrInvalidRegion, res)
	}
	w.extent, w.res, w.set = e, res, true
	w.writes++
	return nil
}

// Current returns the active extent and resolution; ok is false before the
// first Set.
func (w *WorkingRegion) Current() (raster.Extent, float64, bool) {
	return w.extent, w.res, w.set
}

// Writes returns how many times Set succeeded.
func (w *WorkingRegion) Writes() int { return w.writes }
