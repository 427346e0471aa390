package workflow

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/okian/runout/internal/domain/footprint"
	"github.com/okian/runout/internal/domain/stage"
)

// Artifact file names inside a plan's work directory.
const (
	scaledHydrographFile = "hydrograph_scaled.txt"
	maskFile             = "footprint_mask.asc"
	dilatedMaskFile      = "footprint_dilated.asc"
)

// Plan is everything one workflow instance needs. Stage configs are built,
// and therefore flow classes resolved, before a Plan exists.
type Plan struct {
	RunID string
	// WorkDir is the instance's private namespace; no two running
	// instances may share it.
	WorkDir string

	CoarseDEM   string
	FineDEM     string
	Hydrograph  string
	Multiplier  float64
	HeaderLines int

	Coarse stage.Config
	Fine   stage.Config

	Threshold float64
	Radius    int
	Metric    footprint.Metric
	KeepMasks bool
}

// Validate checks the plan before any work starts.
func (p Plan) Validate() error {
	switch {
	case p.RunID == "":
		return fmt.Errorf("%w: empty run id", ErrInvalidPlan)
	case p.WorkDir == "":
		return fmt.Errorf("%w: empty work dir", ErrInvalidPlan)
	case p.CoarseDEM == "" || p.FineDEM == "" || p.Hydrograph == "":
		return fmt.Errorf("%w: coarse DEM, fine DEM and hydrograph are required", ErrInvalidPlan)
	case p.Coarse.IsZero() || p.Coarse.Kind() != stage.Coarse:
		return fmt.Errorf("%w: missing coarse stage", ErrInvalidPlan)
	case p.Fine.IsZero() || p.Fine.Kind() != stage.Fine:
		return fmt.Errorf("%w: missing fine stage", ErrInvalidPlan)
	case p.Coarse.Prefix() == p.Fine.Prefix():
		return fmt.Errorf("%w: stages share prefix %q", ErrInvalidPlan, p.Coarse.Prefix())
	case math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) || p.Threshold < 0:
		return fmt.Errorf("%w: threshold %v", ErrInvalidPlan, p.Threshold)
	case p.Radius < 0:
		return fmt.Errorf("%w: radius %d", ErrInvalidPlan, p.Radius)
	case !(p.Multiplier > 0) || math.IsInf(p.Multiplier, 0):
		return fmt.Errorf("%w: multiplier %v", ErrInvalidPlan, p.Multiplier)
	}
	return nil
}

// ScaledHydrographPath is where the scaled hydrograph is written.
func (p Plan) ScaledHydrographPath() string {
	return filepath.Join(p.WorkDir, scaledHydrographFile)
}

// ClippedDEMPath is where the clipped fine DEM is written.
func (p Plan) ClippedDEMPath() string {
	return filepath.Join(p.WorkDir, p.Fine.Prefix()+"_dem.asc")
}

// MaskPaths are where the raw and dilated masks go when KeepMasks is set.
func (p Plan) MaskPaths() (mask, dilated string) {
	return filepath.Join(p.WorkDir, maskFile), filepath.Join(p.WorkDir, dilatedMaskFile)
}
