// Package workflow sequences one coarse-to-fine simulation instance.
//
// A Driver walks the states Idle, CoarseRunning, FootprintReady, FineRunning
// and Done. Each Step performs the work attached to the outgoing transition
// of the current state; any failure moves the instance to Failed and the
// fine engine is never invoked afterwards.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/okian/runout/internal/domain/clip"
	"github.com/okian/runout/internal/domain/flowclass"
	"github.com/okian/runout/internal/domain/footprint"
	"github.com/okian/runout/internal/domain/hydrograph"
	"github.com/okian/runout/internal/domain/raster"
	"github.com/okian/runout/internal/engine"
	"github.com/okian/runout/pkg/logger"
	"github.com/okian/runout/pkg/metrics"
)

// Report summarises a workflow instance.
type Report struct {
	RunID string
	State State

	Multiplier     float64
	Volume         float64
	ScaledVolume   float64
	HydrographRows int
	SkippedRows    int

	FootprintCells int
	DilatedCells   int
	ClippedCells   int
	MaskBounds     raster.Extent
	Extent         raster.Extent

	CoarseMaxHeight string
	ClippedDEM      string
	FineMaxHeight   string
	FineFlowCells   int
	// FineEdgeCells counts fine flow cells on the clipped domain border.
	FineEdgeCells int

	EngineCalls int
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

// Driver runs one Plan. It is not safe for concurrent use; parallel
// instances each get their own Driver, Region and work directory.
type Driver struct {
	plan    Plan
	engine  engine.Engine
	store   raster.Store
	region  clip.Region
	log     logger.Logger
	now     func() time.Time
	observe func(context.Context, Report)

	state  State
	report Report
}

// NewDriver validates plan and returns a Driver in the Idle state.
func NewDriver(plan Plan, eng engine.Engine, store raster.Store, opts ...Option) (*Driver, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if eng == nil || store == nil {
		return nil, fmt.Errorf("%w: engine and raster store are required", ErrInvalidPlan)
	}
	d := &Driver{
		plan:   plan,
		engine: eng,
		store:  store,
		region: clip.NewWorkingRegion(),
		log:    logger.Nop(),
		now:    time.Now,
		state:  Idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.String("run_id", plan.RunID))
	d.report = Report{RunID: plan.RunID, State: Idle, Multiplier: plan.Multiplier}
	return d, nil
}

// State returns the current state.
func (d *Driver) State() State { return d.state }

// Report returns a copy of the report so far.
func (d *Driver) Report() Report { return d.report }

// Step performs exactly one transition. It returns the new state and, when
// the instance failed, the *StageError that caused it.
func (d *Driver) Step(ctx context.Context) (State, error) {
	if d.state.Terminal() {
		return d.state, fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, d.state)
	}
	if d.state == Idle {
		d.report.StartedAt = d.now()
		if err := os.MkdirAll(d.plan.WorkDir, 0o755); err != nil {
			return d.fail(ctx, &StageError{Stage: StageHydrograph, Invariant: "work directory must be writable", Err: err})
		}
	}

	name := d.stageName()
	if err := ctx.Err(); err != nil {
		return d.fail(ctx, &StageError{Stage: name, Err: err})
	}

	start := time.Now()
	var err error
	switch d.state {
	case Idle:
		err = d.runCoarse(ctx)
	case CoarseRunning:
		err = d.buildFootprint(ctx)
	case FootprintReady:
		err = d.runFine(ctx)
	case FineRunning:
		err = d.inspectFine(ctx)
	}
	metrics.ObserveStageDuration(name, time.Since(start).Seconds())

	if err != nil {
		return d.fail(ctx, err)
	}
	next, terr := Next(d.state, true)
	if terr != nil {
		return d.state, terr
	}
	d.state = next
	d.report.State = next
	if next == Done {
		d.report.FinishedAt = d.now()
	}
	d.log.Debug(ctx, "workflow transition", logger.String("stage", name), logger.String("state", next.String()))
	d.notify(ctx)
	return next, nil
}

// Run steps until a terminal state and returns the final report. The
// returned error is the report's Err.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	for !d.state.Terminal() {
		if _, err := d.Step(ctx); err != nil && !d.state.Terminal() {
			return d.report, err
		}
	}

	outcome := metrics.OutcomeDone
	switch {
	case d.state == Done:
		d.log.Info(ctx, "workflow done",
			logger.Int("clipped_cells", d.report.ClippedCells),
			logger.Int("engine_calls", d.report.EngineCalls),
			logger.Duration("elapsed", d.report.FinishedAt.Sub(d.report.StartedAt)))
	case errors.Is(d.report.Err, context.Canceled) || errors.Is(d.report.Err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCancelled
	default:
		outcome = metrics.OutcomeFailed
	}
	if err := metrics.RecordWorkflowOutcome(outcome); err != nil {
		d.log.Warn(ctx, "record outcome", logger.Error(err))
	}
	return d.report, d.report.Err
}

// stageName is the stage whose work the next Step performs.
func (d *Driver) stageName() string {
	switch d.state {
	case Idle:
		return StageCoarse
	case CoarseRunning:
		return StageFootprint
	default:
		return StageFine
	}
}

func (d *Driver) fail(ctx context.Context, err error) (State, error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: d.stageName(), Err: err}
	}
	d.state = Failed
	d.report.State = Failed
	d.report.Err = se
	d.report.FinishedAt = d.now()
	metrics.RecordWorkflowFailure(se.Stage, failureKind(se))
	d.log.Error(ctx, "workflow failed",
		logger.String("stage", se.Stage),
		logger.String("reason", se.Error()))
	d.notify(ctx)
	return Failed, se
}

func (d *Driver) notify(ctx context.Context) {
	if d.observe != nil {
		d.observe(ctx, d.report)
	}
}

func (d *Driver) runCoarse(ctx context.Context) error {
	p := d.plan
	scaled := p.ScaledHydrographPath()
	res, rep, err := hydrograph.ScaleFile(p.Hydrograph, scaled, p.Multiplier, hydrograph.WithHeaderLines(p.HeaderLines))
	if err != nil {
		return &StageError{Stage: StageHydrograph, Invariant: "hydrograph must parse and scale", Err: err}
	}
	d.report.Volume = res.Volume
	d.report.ScaledVolume = res.ScaledVolume
	d.report.HydrographRows = rep.Rows
	d.report.SkippedRows = rep.SkippedCount()
	metrics.RecordHydrograph(rep.Rows, rep.SkippedCount(), res.ScaledVolume)
	if rep.SkippedCount() > 0 {
		d.log.Warn(ctx, "skipped malformed hydrograph rows",
			logger.Int("skipped", rep.SkippedCount()),
			logger.String("first", rep.Skipped[0].Error()))
	}

	out, err := d.invoke(ctx, engine.Request{
		RunID:      p.RunID,
		Stage:      p.Coarse,
		WorkDir:    p.WorkDir,
		Elevation:  p.CoarseDEM,
		Hydrograph: scaled,
	})
	if err != nil {
		return &StageError{Stage: StageCoarse, Invariant: "coarse engine run must succeed", Err: err}
	}
	d.report.CoarseMaxHeight = out.MaxHeight
	return nil
}

func (d *Driver) buildFootprint(ctx context.Context) error {
	p := d.plan
	heights, err := d.store.Load(ctx, d.report.CoarseMaxHeight)
	if err != nil {
		return &StageError{Stage: StageFootprint, Invariant: "coarse max height raster must load", Err: err}
	}
	mask, marked, err := footprint.Extract(heights, p.Threshold)
	if err != nil {
		return &StageError{Stage: StageFootprint, Err: err}
	}
	dilated, grown, err := footprint.Dilate(mask, p.Radius, p.Metric)
	if err != nil {
		return &StageError{Stage: StageFootprint, Err: err}
	}
	d.report.FootprintCells = marked
	d.report.DilatedCells = grown
	if grown == 0 {
		return &StageError{
			Stage:     StageFootprint,
			Invariant: "footprint empty after dilation",
			Err:       fmt.Errorf("no flow above threshold %g m detected in coarse run: %w", p.Threshold, clip.ErrFootprintEmpty),
		}
	}
	if p.KeepMasks {
		maskPath, dilatedPath := p.MaskPaths()
		if err := d.store.Save(ctx, maskPath, mask); err != nil {
			return &StageError{Stage: StageFootprint, Invariant: "mask must be written", Err: err}
		}
		if err := d.store.Save(ctx, dilatedPath, dilated); err != nil {
			return &StageError{Stage: StageFootprint, Invariant: "mask must be written", Err: err}
		}
	}

	res := p.Fine.Resolution()
	bounds, aligned, err := clip.Window(dilated, res)
	if err != nil {
		return &StageError{Stage: StageClip, Err: err}
	}
	d.report.MaskBounds = bounds
	dem, err := raster.LoadWindow(ctx, d.store, p.FineDEM, aligned)
	if errors.Is(err, raster.ErrOutOfBounds) {
		err = fmt.Errorf("%w: %w", clip.ErrCoverageGap, err)
	}
	if err != nil {
		return d.clipError(err)
	}
	clipped, err := clip.NewClipper(d.region).Clip(ctx, dilated, dem, res)
	if err != nil {
		return d.clipError(err)
	}
	if err := d.store.Save(ctx, p.ClippedDEMPath(), clipped.DEM); err != nil {
		return &StageError{Stage: StageClip, Invariant: "clipped DEM must be written", Err: err}
	}
	d.report.ClippedCells = clipped.Cells
	d.report.Extent = clipped.Extent
	d.report.ClippedDEM = p.ClippedDEMPath()
	metrics.ObserveFootprint(marked, grown, clipped.Cells)
	d.log.Info(ctx, "footprint ready",
		logger.Int("footprint_cells", marked),
		logger.Int("dilated_cells", grown),
		logger.Int("clipped_cells", clipped.Cells),
		logger.String("extent", clipped.Extent.String()))
	return nil
}

func (d *Driver) clipError(err error) error {
	if errors.Is(err, clip.ErrCoverageGap) {
		return &StageError{Stage: StageClip, Invariant: "fine DEM must cover the whole clip extent", Err: err}
	}
	return &StageError{Stage: StageClip, Err: err}
}

func (d *Driver) runFine(ctx context.Context) error {
	p := d.plan
	out, err := d.invoke(ctx, engine.Request{
		RunID:      p.RunID,
		Stage:      p.Fine,
		WorkDir:    p.WorkDir,
		Elevation:  d.report.ClippedDEM,
		Hydrograph: p.ScaledHydrographPath(),
		Region:     d.report.Extent,
	})
	if err != nil {
		return &StageError{Stage: StageFine, Invariant: "fine engine run must succeed", Err: err}
	}
	d.report.FineMaxHeight = out.MaxHeight
	return nil
}

// inspectFine counts fine flow cells and warns when flow reaches the border
// of the clipped domain, which means the dilation margin was too small.
func (d *Driver) inspectFine(ctx context.Context) error {
	heights, err := d.store.Load(ctx, d.report.FineMaxHeight)
	if err != nil {
		return &StageError{Stage: StageFine, Invariant: "fine max height raster must load", Err: err}
	}
	mask, marked, err := footprint.Extract(heights, d.plan.Threshold)
	if err != nil {
		return &StageError{Stage: StageFine, Err: err}
	}
	edge := 0
	rows, cols := mask.Rows(), mask.Cols()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if (r == 0 || c == 0 || r == rows-1 || c == cols-1) && footprint.IsMarked(mask, r, c) {
				edge++
			}
		}
	}
	d.report.FineFlowCells = marked
	d.report.FineEdgeCells = edge
	if edge > 0 {
		d.log.Warn(ctx, "fine flow reached the clipped domain edge",
			logger.Int("edge_cells", edge),
			logger.Int("radius", d.plan.Radius))
	}
	return nil
}

func (d *Driver) invoke(ctx context.Context, req engine.Request) (engine.Result, error) {
	d.report.EngineCalls++
	out, err := d.engine.Run(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}
	if out.MaxHeight == "" {
		out.MaxHeight = engine.MaxHeightPath(req.WorkDir, req.Stage.Prefix())
	}
	return out, nil
}

// failureKind labels err for metrics.
func failureKind(err error) string {
	switch {
	case errors.Is(err, clip.ErrFootprintEmpty):
		return "footprint_empty"
	case errors.Is(err, clip.ErrCoverageGap):
		return "coverage_gap"
	case errors.Is(err, engine.ErrEngineFailed):
		return "engine_failed"
	case errors.Is(err, flowclass.ErrInvalidFlowClass):
		return "invalid_flow_class"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, hydrograph.ErrInvalidMultiplier), errors.Is(err, hydrograph.ErrEmpty):
		return "hydrograph"
	default:
		return "other"
	}
}
