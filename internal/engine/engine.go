// Package engine is the boundary to the external flow simulation engine.
//
// The engine is opaque apart from one output contract: after a successful
// run the maximum flow height raster sits at MaxHeightPath.
package engine

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/okian/runout/internal/domain/raster"
	"github.com/okian/runout/internal/domain/stage"
)

// Request is one engine invocation.
type Request struct {
	RunID      string
	Stage      stage.Config
	WorkDir    string
	Elevation  string
	Hydrograph string
	// Region restricts the computation. A zero extent means the full DEM.
	Region raster.Extent
}

// Result describes a finished invocation.
type Result struct {
	MaxHeight string
	Duration  time.Duration
}

// Engine runs one stage synchronously. Implementations must honour ctx
// cancellation and must not retry.
type Engine interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Engine.
type Func func(ctx context.Context, req Request) (Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// MaxHeightPath is where the engine leaves the maximum flow height raster
// for a run prefix.
func MaxHeightPath(workDir, prefix string) string {
	return filepath.Join(workDir,
		prefix+"_results",
		prefix+"_ascii",
		prefix+"_hflow_max.asc")
}

// Args renders req as the engine's key=value arguments.
func Args(req Request) []string {
	cfg := req.Stage
	t, cfl, th, viz, fr := cfg.Time(), cfg.CFL(), cfg.Thresholds(), cfg.Visualization(), cfg.Friction()
	args := []string{
		"prefix=" + cfg.Prefix(),
		"phases=" + strconv.Itoa(cfg.Phases()),
		"elevation=" + req.Elevation,
		"hydrograph=" + req.Hydrograph,
		"cellsize=" + num(cfg.Resolution()),
		"density=" + nums(cfg.Densities()...),
		"friction=" + nums(fr.Internal, fr.Basal, fr.Turbulent),
		"time=" + nums(t.Start, t.End, t.OutputStep),
		"cfl=" + nums(cfl.Number, cfl.InitialStep),
		"thresholds=" + nums(th.Height, th.Momentum),
		"visualization=" + nums(viz.Interval, viz.MaxHeight),
	}
	if !req.Region.Empty() {
		r := req.Region
		args = append(args, "region="+nums(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y))
	}
	return args
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func nums(vs ...float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = num(v)
	}
	return strings.Join(parts, ",")
}
